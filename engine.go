package spf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultDNSLimit is the maximum number of SPF terms that require DNS resolution to
// allow before returning a failure.
const DefaultDNSLimit = 10

// DefaultMXAddressLimit is the maximum number of A or AAAA requests to allow while
// evaluating each "mx" mechanism before returning a failure.
const DefaultMXAddressLimit = 10

// DefaultVoidQueryLimit is the maximum number of DNS queries that return no records
// to allow before returning a failure.
const DefaultVoidQueryLimit = 2

// DefaultPtrAddressLimit is the limit on how many PTR records will be used when
// evaluating a "ptr" mechanism. (The "%{p}" macro is not supported; see errMacroP.)
const DefaultPtrAddressLimit = 10

// DefaultRecursionLimit bounds how many nested "include"/"redirect"
// evaluations a single check may perform. In practice the DNS lookup
// budget above already caps this, since every include and redirect
// consumes one of the 10 DNS-causing terms; this is a second,
// independent backstop against runaway recursion that still holds when
// a Checker's DNSLimit is set higher than its RecursionLimit.
const DefaultRecursionLimit = 10

// Checker holds all the configuration and limits for checking SPF records.
type Checker struct {
	Resolver        Resolver // used to resolve all DNS queries
	DNSLimit        int      // maximum number of DNS-using mechanisms
	MXAddressLimit  int      // maximum number of hostnames in an "mx" mechanism
	VoidQueryLimit  int      // maximum number of empty DNS responses
	PtrAddressLimit int      // use only this many PTR responses
	RecursionLimit  int      // maximum include/redirect nesting depth
	Hostname        string   // the hostname of the machine running the check
	Hook            Hook     // instrumentation hooks
}

// NewChecker creates a new Checker with sensible defaults.
func NewChecker() *Checker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}
	return &Checker{
		Resolver:        &DefaultResolver{},
		DNSLimit:        DefaultDNSLimit,
		MXAddressLimit:  DefaultMXAddressLimit,
		VoidQueryLimit:  DefaultVoidQueryLimit,
		PtrAddressLimit: DefaultPtrAddressLimit,
		RecursionLimit:  DefaultRecursionLimit,
		Hostname:        hostname,
	}
}

// DefaultChecker is the Checker that will be used by the package level
// spf.Check function.
var DefaultChecker *Checker

// Check checks SPF policy for a message using both smtp.mailfrom and smtp.helo.
func Check(ctx context.Context, ip net.IP, mailFrom string, helo string) (ResultType, string) {
	if DefaultChecker == nil {
		DefaultChecker = NewChecker()
	}
	result := DefaultChecker.SPF(ctx, ip, mailFrom, helo)
	return result.Type, result.Explanation
}

func newResult(c *Checker, ip net.IP, sender, helo string) Result {
	return Result{
		Type:     None,
		ip:       ip,
		sender:   sender,
		helo:     helo,
		c:        c,
		state:    newEvalState(),
		evalTime: time.Now().Unix(),
	}
}

// SPF checks SPF policy for a message using both smtp.mailfrom and smtp.helo.
//
// 2.4.  Identities (RFC 7208)
//
//   Several identities are related to an email message:
//      ...
//   This document defines how only one mechanism, the "ptr" mechanism
//   described in Section 5.5, can be used to authorize the <ip> against
//   more than one of these identities; it is NOT RECOMMENDED for use.
//   The "HELO" identity SHOULD be checked first.
func (c *Checker) SPF(ctx context.Context, ip net.IP, mailFrom string, helo string) Result {
	var result Result
	if helo != "" {
		result = newResult(c, ip, mailFrom, helo)
		r := c.checkHost(ctx, &result, dns.Fqdn(helo), false, false)
		result.Type = r
		if r != None && r != Neutral {
			result.UsedHelo = true
			return result
		}
	}
	if mailFrom != "" {
		result = newResult(c, ip, mailFrom, helo)
		at := strings.LastIndex(mailFrom, "@")
		r := c.checkHost(ctx, &result, dns.Fqdn(mailFrom[at+1:]), false, false)
		result.Type = r
	}
	return result
}

// CheckHost implements the SPF check_host() function for a given domain.
func (c *Checker) CheckHost(ctx context.Context, ip net.IP, domain, sender string, helo string) Result {
	result := newResult(c, ip, sender, helo)
	result.Type = c.checkHost(ctx, &result, domain, false, false)
	return result
}

// Anything not 7 bit ascii or any control character
var invalidCharRe = regexp.MustCompile(`[^ -~]`)

func (c *Checker) checkHost(ctx context.Context, result *Result, domain string, include bool, redirect bool) ResultType {
	r := c.checkHostCore(ctx, result, domain, include, redirect)
	if c.Hook != nil {
		c.Hook.RecordResult(domain, result)
	}
	return r
}

// checkHostCore does the actual RFC 7208 check_host() work.
func (c *Checker) checkHostCore(ctx context.Context, result *Result, domain string, include bool, redirect bool) ResultType {
	// 4.3 Initial Processing (RFC 7208)
	//  If the <domain> is malformed (e.g., label longer than 63 characters,
	//	zero-length label not at the end, etc.) or is not a multi-label
	//  domain name, or if the DNS lookup returns "Name Error" (RCODE 3, also
	//  known as "NXDOMAIN" [RFC2308]), check_host() immediately returns the
	//  result "none".

	if _, valid := dns.IsDomainName(domain); !valid {
		result.Error = errors.New("invalid domain")
		return None
	}

	if !dns.IsFqdn(domain) {
		result.Error = errors.New("domain not fully qualified")
		return None
	}

	// Loop/recursion guard. Every include or redirect lands here with the
	// same evalState as the top-level check, so a record that redirects or
	// includes its way back to a domain it has already visited is caught
	// even if, for whatever reason, it didn't also trip the DNS lookup
	// budget below.
	if result.state.enterDomain(domain) {
		result.Error = fmt.Errorf("loop detected evaluating %s", domain)
		if c.Hook != nil {
			c.Hook.Loop(domain)
		}
		return Permerror
	}
	if result.state.recursionDepth >= c.RecursionLimit {
		result.Error = fmt.Errorf("limit of %d nested includes/redirects exceeded", c.RecursionLimit)
		return Permerror
	}
	if include || redirect {
		result.state.recursionDepth++
		defer func() { result.state.recursionDepth-- }()
	}

	// 4.3 Initial Processing (RFC 7208)
	//  If the <sender> has no local-part, substitute the string "postmaster"
	//  for the local-part.
	if !strings.Contains(result.sender, "@") {
		result.sender = "postmaster@" + result.sender
	}
	if strings.HasPrefix(result.sender, "@") {
		result.sender = "postmaster" + result.sender
	}

	// 4.6.4.  DNS Lookup Limits (RFC 7208)
	//
	//  Some mechanisms and modifiers (collectively, "terms") cause DNS
	//  queries at the time of evaluation, and some do not.  The following
	//  terms cause DNS queries: the "include", "a", "mx", "ptr", and
	//  "exists" mechanisms, and the "redirect" modifier.  SPF
	//  implementations MUST limit the total number of those terms to 10
	//  during SPF evaluation, to avoid unreasonable load on the DNS.  If
	//  this limit is exceeded, the implementation MUST return "permerror".
	//
	// The top-level record fetch is not one of those terms; an include or
	// redirect is charged here, once, for the record it fetches.
	if (include || redirect) && result.countDNSLookup(c.DNSLimit) {
		result.Error = fmt.Errorf("limit of %d dns queries exceeded", c.DNSLimit)
		return Permerror
	}
	record, resultType, err := c.getSPFRecord(ctx, domain)
	if err != nil {
		result.Error = err
		return resultType
	}
	if c.Hook != nil {
		c.Hook.Record(record, domain)
	}

	if record == "" {
		// 6.1.  Publishing Explanations (RFC 7208, as applied to "redirect")
		//
		//  A "redirect" modifier whose target has no SPF record at all is
		//  distinct from one that merely fails to match: the redirecting
		//  domain's own policy can't be evaluated at all, so the result is
		//  "permerror" rather than silently falling through to "none".
		if redirect {
			return Permerror
		}
		return resultType
	}

	badChar := invalidCharRe.FindString(record)
	if badChar != "" {
		result.Error = fmt.Errorf("invalid character %q", badChar[0])
		return Permerror
	}

	mechanisms, err := ParseSPF(record)
	if err != nil {
		result.Error = err
		return Permerror
	}
	for i, mechanism := range mechanisms.Mechanisms {
		resultType, err = mechanism.Evaluate(ctx, result, domain)
		result.Type = resultType
		if c.Hook != nil {
			c.Hook.Mechanism(domain, i, mechanism, result)
		}
		if result.DNSQueries > c.DNSLimit {
			result.Error = fmt.Errorf("limit of %d dns queries exceeded", c.DNSLimit)
			return Permerror
		}
		if resultType != None {
			result.Error = err
			if err == nil && !include && resultType == Fail && mechanisms.Exp != "" {
				c.resolveExplanation(ctx, result, domain, mechanisms.Exp)
			}
			return resultType
		}
	}

	// Fell off the end of the record
	if mechanisms.Redirect != "" {
		if c.Hook != nil {
			c.Hook.Redirect(mechanisms.Redirect)
		}
		target, err := c.ExpandDomainSpec(ctx, mechanisms.Redirect, result, domain, false)

		if err != nil {
			return Permerror
		}
		if !validDomainName(target) {
			return Permerror
		}

		return c.checkHost(ctx, result, dns.Fqdn(target), false, true)
	}
	return Neutral
}

// resolveExplanation expands and resolves an "exp=" modifier into
// result.Explanation for a Fail result.
//
// 6.2.  Explanation (RFC 7208)
//
//  In general, explanations should not be provided to non-SMTP sources,
//  ... and must never change the result of the check itself.
//
// A failure at any step here (macro expansion, an invalid target name, a
// DNS error, a malformed TXT answer) only ever leaves result.Explanation
// unset; it never changes resultType, per spec.md's "explanation failure
// must never change the result type".
func (c *Checker) resolveExplanation(ctx context.Context, result *Result, domain string, expDomainSpec string) {
	target, err := c.ExpandDomainSpec(ctx, expDomainSpec, result, domain, false)
	if err != nil || !validDomainName(target) {
		return
	}
	r := &dns.Msg{}
	r.SetQuestion(dns.Fqdn(target), dns.TypeTXT)
	m, err := c.resolve(ctx, r)
	if err != nil || m.Rcode != dns.RcodeSuccess || len(m.Answer) != 1 {
		return
	}
	txt, ok := m.Answer[0].(*dns.TXT)
	if !ok {
		return
	}
	result.Explanation, _ = c.ExpandMacro(ctx, strings.Join(txt.Txt, ""), result, domain, true)
}

func (c *Checker) resolve(ctx context.Context, r *dns.Msg) (*dns.Msg, error) {
	m, err := c.Resolver.Resolve(ctx, r)
	if c.Hook != nil {
		c.Hook.Dns(r, m, err)
	}
	return m, err
}
