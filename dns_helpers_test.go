package spf

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidDomainName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"plain domain", "example.com", true},
		{"subdomain", "mail.example.com", true},
		{"trailing dot", "example.com.", true},
		{"single label", "com", false},
		{"numeric tld", "example.123", false},
		{"empty", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, validDomainName(c.in))
		})
	}
}

func TestValidDomainSpec(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"plain domain", "example.com", true},
		{"macro ending in literal tld", "%{i}.example.com", true},
		{"macro-only spec", "%{d}", true},
		{"empty is invalid as a required domain-spec", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, validDomainSpec(c.in))
		})
	}
}

func TestValidOptionalDomainSpec(t *testing.T) {
	assert.True(t, validOptionalDomainSpec(""))
	assert.True(t, validOptionalDomainSpec("example.com"))
	assert.False(t, validOptionalDomainSpec("%{q}"))
}

func TestParseCIDR(t *testing.T) {
	ip, net4, err := parseCIDR("192.0.2.0/24")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.0", ip.String())
	ones, bits := net4.Mask.Size()
	assert.Equal(t, 24, ones)
	assert.Equal(t, 32, bits)

	_, _, err = parseCIDR("192.0.2.0/024")
	assert.Error(t, err, "non-canonical mask text should be rejected")

	_, _, err = parseCIDR("not-an-address/24")
	assert.Error(t, err)
}

// fakeDNSResolver answers a fixed set of questions (by qname+qtype) and
// reports NXDOMAIN for everything else, without pulling in the full
// YAML fixture machinery engine_test.go uses.
type fakeDNSResolver struct {
	answers map[string]map[uint16]*dns.Msg
}

func (f fakeDNSResolver) Resolve(_ context.Context, r *dns.Msg) (*dns.Msg, error) {
	m := &dns.Msg{}
	m.SetReply(r)
	byType, ok := f.answers[r.Question[0].Name]
	if !ok {
		m.SetRcode(r, dns.RcodeNameError)
		return m, nil
	}
	reply, ok := byType[r.Question[0].Qtype]
	if !ok {
		m.SetRcode(r, dns.RcodeNameError)
		return m, nil
	}
	reply = reply.Copy()
	reply.SetReply(r)
	return reply, nil
}

func TestLookupDNSVoidCounts(t *testing.T) {
	c := &Checker{Resolver: fakeDNSResolver{}, DNSLimit: DefaultDNSLimit, VoidQueryLimit: DefaultVoidQueryLimit}
	result := &Result{c: c, state: newEvalState()}

	_, resultType, err := c.lookupDNS(context.Background(), "nxdomain.invalid.", dns.TypeTXT, result)
	require.NoError(t, err)
	assert.Equal(t, None, resultType)
	assert.Equal(t, 1, result.VoidLookups)
}

func TestLookupAddressesFiltersByType(t *testing.T) {
	reply := &dns.Msg{}
	reply.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: "both.example.", Rrtype: dns.TypeA}, A: net.ParseIP("192.0.2.1")},
		&dns.AAAA{Hdr: dns.RR_Header{Name: "both.example.", Rrtype: dns.TypeAAAA}, AAAA: net.ParseIP("2001:db8::1")},
	}
	resolver := fakeDNSResolver{answers: map[string]map[uint16]*dns.Msg{
		"both.example.": {dns.TypeA: reply},
	}}
	c := &Checker{Resolver: resolver, DNSLimit: DefaultDNSLimit, VoidQueryLimit: DefaultVoidQueryLimit}
	result := &Result{c: c, state: newEvalState()}

	addrs, resultType, err := c.lookupAddresses(context.Background(), "both.example.", dns.TypeA, result)
	require.NoError(t, err)
	assert.Equal(t, None, resultType)
	require.Len(t, addrs, 1)
	assert.True(t, addrs[0].Equal(net.ParseIP("192.0.2.1")))
}
