package spf

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMechanismQualifiers(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ResultType
	}{
		{"default plus", "all", Pass},
		{"explicit plus", "+all", Pass},
		{"minus is fail", "-all", Fail},
		{"tilde is softfail", "~all", Softfail},
		{"question is neutral", "?all", Neutral},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m, err := NewMechanism(c.raw)
			require.NoError(t, err)
			all, ok := m.(MechanismAll)
			require.True(t, ok)
			assert.Equal(t, c.want, all.Qualifier)
		})
	}
}

func TestNewMechanismAll(t *testing.T) {
	_, err := NewMechanism("all:foo")
	assert.Error(t, err, "all doesn't take a parameter")

	m, err := NewMechanism("all")
	require.NoError(t, err)
	assert.Equal(t, MechanismAll{Qualifier: Pass}, m)
}

func TestNewMechanismInclude(t *testing.T) {
	m, err := NewMechanism("include:other.example.com")
	require.NoError(t, err)
	inc, ok := m.(MechanismInclude)
	require.True(t, ok)
	assert.Equal(t, "other.example.com", inc.DomainSpec)

	_, err = NewMechanism("include")
	assert.Error(t, err, "include requires a domain-spec")

	_, err = NewMechanism("include:")
	assert.Error(t, err, "include requires a non-empty domain-spec")
}

func TestNewMechanismAAndMX(t *testing.T) {
	m, err := NewMechanism("a")
	require.NoError(t, err)
	a, ok := m.(MechanismA)
	require.True(t, ok)
	assert.Equal(t, "", a.DomainSpec)
	ones, bits := a.Mask4.Size()
	assert.Equal(t, 32, ones)
	assert.Equal(t, 32, bits)

	m, err = NewMechanism("a:other.example.com/24")
	require.NoError(t, err)
	a = m.(MechanismA)
	assert.Equal(t, "other.example.com", a.DomainSpec)
	ones, _ = a.Mask4.Size()
	assert.Equal(t, 24, ones)

	m, err = NewMechanism("mx:other.example.com/24//64")
	require.NoError(t, err)
	mx, ok := m.(MechanismMX)
	require.True(t, ok)
	assert.Equal(t, "other.example.com", mx.DomainSpec)
	ones, _ = mx.Mask4.Size()
	assert.Equal(t, 24, ones)
	ones, _ = mx.Mask6.Size()
	assert.Equal(t, 64, ones)

	_, err = NewMechanism("a:")
	assert.Error(t, err, "empty domain in a mechanism")
}

func TestNewMechanismIP4(t *testing.T) {
	m, err := NewMechanism("ip4:192.0.2.0/24")
	require.NoError(t, err)
	ip4, ok := m.(MechanismIp4)
	require.True(t, ok)
	assert.True(t, ip4.Net.Contains(net.ParseIP("192.0.2.17")))
	assert.False(t, ip4.Net.Contains(net.ParseIP("192.0.3.17")))

	m, err = NewMechanism("ip4:192.0.2.1")
	require.NoError(t, err)
	ip4 = m.(MechanismIp4)
	ones, _ := ip4.Net.Mask.Size()
	assert.Equal(t, 32, ones)

	_, err = NewMechanism("ip4:2001:db8::1")
	assert.Error(t, err, "ipv6 address in ip4 mechanism")

	_, err = NewMechanism("ip4:not-an-address")
	assert.Error(t, err)
}

func TestNewMechanismIP6(t *testing.T) {
	m, err := NewMechanism("ip6:2001:db8::/32")
	require.NoError(t, err)
	ip6, ok := m.(MechanismIp6)
	require.True(t, ok)
	assert.True(t, ip6.Net.Contains(net.ParseIP("2001:db8::1")))
	assert.False(t, ip6.Net.Contains(net.ParseIP("2001:db9::1")))

	_, err = NewMechanism("ip6:192.0.2.1")
	assert.Error(t, err, "ipv4 address in ip6 mechanism")
}

func TestNewMechanismExistsAndPTR(t *testing.T) {
	m, err := NewMechanism("exists:%{i}.example.com")
	require.NoError(t, err)
	exists, ok := m.(MechanismExists)
	require.True(t, ok)
	assert.Equal(t, "%{i}.example.com", exists.DomainSpec)

	_, err = NewMechanism("exists")
	assert.Error(t, err)

	m, err = NewMechanism("ptr")
	require.NoError(t, err)
	_, ok = m.(MechanismPTR)
	require.True(t, ok)

	m, err = NewMechanism("ptr:other.example.com")
	require.NoError(t, err)
	ptr := m.(MechanismPTR)
	assert.Equal(t, "other.example.com", ptr.DomainSpec)
}

func TestNewMechanismUnrecognized(t *testing.T) {
	_, err := NewMechanism("bogus")
	assert.Error(t, err)
}

func TestMechanismAllEvaluate(t *testing.T) {
	m := MechanismAll{Qualifier: Fail}
	r, err := m.Evaluate(nil, nil, "example.com")
	require.NoError(t, err)
	assert.Equal(t, Fail, r)
}

func TestMechanismIPEvaluateCrossFamily(t *testing.T) {
	m, err := NewMechanism("ip4:192.0.2.0/24")
	require.NoError(t, err)

	result := &Result{ip: net.ParseIP("2001:db8::1")}
	r, err := m.Evaluate(nil, result, "example.com")
	require.NoError(t, err)
	assert.Equal(t, None, r)

	m6, err := NewMechanism("ip6:2001:db8::/32")
	require.NoError(t, err)
	result4 := &Result{ip: net.ParseIP("192.0.2.1")}
	r, err = m6.Evaluate(nil, result4, "example.com")
	require.NoError(t, err)
	assert.Equal(t, None, r)
}

func TestDualCIDR(t *testing.T) {
	cases := []struct {
		name       string
		in         string
		wantDomain string
		want4      int
		want6      int
	}{
		{"no cidr", "example.com", "example.com", 32, 128},
		{"v4 only", "example.com/24", "example.com", 24, 128},
		{"v6 only", "example.com//64", "example.com", 32, 64},
		{"both", "example.com/24//64", "example.com", 24, 64},
		{"empty domain, v4 only", "/24", "", 24, 128},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			domain, mask4, mask6, err := dualCIDR(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.wantDomain, domain)
			ones, _ := mask4.Size()
			assert.Equal(t, c.want4, ones)
			ones, _ = mask6.Size()
			assert.Equal(t, c.want6, ones)
		})
	}

	_, _, _, err := dualCIDR("example.com/99")
	assert.Error(t, err, "ipv4 prefix too long")

	_, _, _, err = dualCIDR("example.com//999")
	assert.Error(t, err, "ipv6 prefix too long")
}
