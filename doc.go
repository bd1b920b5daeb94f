/*
Package spf implements an SPF checker to evaluate whether or not an email
messages passes a published SPF (Sender Policy Framework) policy.

It implements the SPF checker protocol as described in RFC 7208, including
macros, PTR checks, and the DNS lookup, void-lookup, and recursion limits
that bound how much work a single check can trigger.

A DNS stub resolver is included, but can be replaced by anything that implements
the spf.Resolver interface.

The Hook interface can be used to hook into the check_host function to see more
details about why a policy passes or fails.

The header subpackage renders a Result as an RFC 7208 Section 9.1
"Received-SPF" trace header.
*/
package spf
