package spf

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SPFRecord holds an SPF record parsed from a single DNS TXT record: the
// ordered mechanisms that make up its directives, plus the "redirect" and
// "exp" modifiers, which (unlike mechanisms) are order-independent and may
// appear at most once each. Modifiers this package doesn't recognize are
// kept verbatim in OtherModifiers per RFC 7208 §6 ("unrecognized modifiers
// MUST be ignored") but never evaluated.
type SPFRecord struct {
	Mechanisms     []Mechanism
	Exp            string
	Redirect       string
	OtherModifiers []string
}

//   modifier         = redirect / explanation / unknown-modifier
//   unknown-modifier = name "=" macro-string
//                      ; where name is not any known modifier
//
//   name             = ALPHA *( ALPHA / DIGIT / "-" / "_" / "." )
var modifierRe = regexp.MustCompile(`^((?i)[a-z][a-z0-9_.-]*)=(.*)`)

// ParseSPF decodes the text of a "v=spf1" TXT record into an SPFRecord.
// Every whitespace-separated term after the version section is classified
// as either a modifier (splitModifier) or a directive (handed to
// NewMechanism), in the order they appear; directive order is preserved
// since the evaluation engine's first-match-wins walk depends on it.
func ParseSPF(s string) (*SPFRecord, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty record")
	}
	if strings.ToLower(fields[0]) != "v=spf1" {
		return nil, errors.New("record doesn't begin with v=spf1")
	}

	record := &SPFRecord{}
	for _, term := range fields[1:] {
		name, value, isModifier := splitModifier(term)
		if isModifier {
			if err := record.applyModifier(name, value, term); err != nil {
				return nil, err
			}
			continue
		}
		mechanism, err := NewMechanism(term)
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", term, err)
		}
		record.Mechanisms = append(record.Mechanisms, mechanism)
	}

	return record, nil
}

// splitModifier reports whether term has the "name=value" shape of a
// modifier rather than a "[qualifier]mechanism[:value]" directive, and if
// so splits it into its lowercased name and raw value.
func splitModifier(term string) (name, value string, isModifier bool) {
	matches := modifierRe.FindStringSubmatch(term)
	if matches == nil {
		return "", "", false
	}
	return strings.ToLower(matches[1]), matches[2], true
}

// applyModifier validates one modifier term against the record being
// built. "redirect" and "exp" are recognized and may each appear at most
// once; anything else is an opaque name=value pair that's kept but never
// acted on.
func (record *SPFRecord) applyModifier(name, value, rawTerm string) error {
	switch name {
	case "redirect":
		if record.Redirect != "" {
			return errors.New("multiple redirect modifiers")
		}
		if !validDomainSpec(value) {
			return errors.New("invalid domain-spec in redirect")
		}
		record.Redirect = value
	case "exp":
		if record.Exp != "" {
			return errors.New("multiple exp modifiers")
		}
		if !validDomainSpec(value) {
			return errors.New("invalid domain-spec in exp")
		}
		record.Exp = value
	default:
		if !MacroIsValid(value) {
			return errors.New("invalid macro-string in modifier")
		}
		record.OtherModifiers = append(record.OtherModifiers, rawTerm)
	}
	return nil
}
