// Package header renders a spf.Result as an RFC 7208 Section 9.1
// "Received-SPF" trace header, the header a receiving MTA is expected
// to prepend to a message after running the check.
package header

import (
	"fmt"
	"strings"

	"github.com/spfkit/spf"
)

// Received renders result as a Received-SPF header value (everything
// after the "Received-SPF:" field name). The caller is responsible for
// folding long lines and prepending the field name.
//
// 9.1.  The Received-SPF Header Field (RFC 7208)
//
//   The format of this header field is described by the following ABNF
//   ([RFC5234]):
//
//     header-field = "Received-SPF:" [CFWS] result FWS [comment FWS]
//                        [ key-value-list ] CRLF
//
//     result = "pass" / "fail" / "softfail" / "neutral" /
//                 "none" / "temperror" / "permerror"
func Received(result *spf.Result, identity string, clientIP string, sender string, helo string) string {
	var b strings.Builder
	b.WriteString(result.Type.String())
	comment := explainComment(result)
	if comment != "" {
		fmt.Fprintf(&b, " (%s)", comment)
	}
	if identity != "" {
		fmt.Fprintf(&b, " %s=%s", identity, result.Sender())
	}
	if clientIP != "" {
		fmt.Fprintf(&b, "; client-ip=%s", clientIP)
	}
	if helo != "" {
		fmt.Fprintf(&b, "; helo=%s", helo)
	}
	if sender != "" {
		fmt.Fprintf(&b, "; envelope-from=%s", sender)
	}
	return b.String()
}

// explainComment builds the free-text parenthetical RFC 7208 §9.1
// permits after the result keyword: the explanation if one was attached,
// otherwise the error recorded during the check, if any (whatever the
// result type).
func explainComment(result *spf.Result) string {
	if result.Explanation != "" {
		return result.Explanation
	}
	if result.Error != nil {
		return result.Error.Error()
	}
	return ""
}
