package spf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSPFRequiresVersion(t *testing.T) {
	_, err := ParseSPF("v=spf2 -all")
	assert.Error(t, err)

	_, err = ParseSPF("")
	assert.Error(t, err, "empty record")

	record, err := ParseSPF("V=SPF1 -all")
	require.NoError(t, err, "version check is case-insensitive")
	require.Len(t, record.Mechanisms, 1)
}

func TestParseSPFMechanismOrderPreserved(t *testing.T) {
	record, err := ParseSPF("v=spf1 a mx -all")
	require.NoError(t, err)
	require.Len(t, record.Mechanisms, 3)
	_, ok := record.Mechanisms[0].(MechanismA)
	assert.True(t, ok)
	_, ok = record.Mechanisms[1].(MechanismMX)
	assert.True(t, ok)
	all, ok := record.Mechanisms[2].(MechanismAll)
	assert.True(t, ok)
	assert.Equal(t, Fail, all.Qualifier)
}

func TestParseSPFRedirectAndExp(t *testing.T) {
	record, err := ParseSPF("v=spf1 redirect=other.example.com exp=explain.example.com")
	require.NoError(t, err)
	assert.Equal(t, "other.example.com", record.Redirect)
	assert.Equal(t, "explain.example.com", record.Exp)

	_, err = ParseSPF("v=spf1 redirect=a.example.com redirect=b.example.com")
	assert.Error(t, err, "duplicate redirect modifiers are rejected")

	_, err = ParseSPF("v=spf1 exp=a.example.com exp=b.example.com")
	assert.Error(t, err, "duplicate exp modifiers are rejected")
}

func TestParseSPFRedirectInvalidDomainSpec(t *testing.T) {
	_, err := ParseSPF("v=spf1 redirect=%{z}")
	assert.Error(t, err, "invalid macro letter in redirect target")
}

func TestParseSPFUnknownModifierKept(t *testing.T) {
	record, err := ParseSPF("v=spf1 a ptrtest=foo -all")
	require.NoError(t, err)
	assert.Equal(t, []string{"ptrtest=foo"}, record.OtherModifiers)

	_, err = ParseSPF("v=spf1 bogus=%{z} -all")
	assert.Error(t, err, "invalid macro-string in an unknown modifier")
}

func TestParseSPFMechanismErrorPropagated(t *testing.T) {
	_, err := ParseSPF("v=spf1 ip4:not-an-address -all")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ip4:not-an-address")
}
