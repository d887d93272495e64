package proxy

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrustedSet(t *testing.T) {
	set, err := ParseTrustedSet([]string{"10.0.0.0/8", " 192.168.1.1 ", "", "2001:db8::/32", "::ffff:172.16.0.1"})
	require.NoError(t, err)

	assert.Equal(t, 4, set.Len())
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1/32", "2001:db8::/32", "172.16.0.1/32"}, set.Strings())
}

func TestParseTrustedSet_Invalid(t *testing.T) {
	_, err := ParseTrustedSet([]string{"10.0.0.0/33"})
	require.Error(t, err)

	_, err = ParseTrustedSet([]string{"proxy.internal"})
	require.Error(t, err)
}

func TestTrustedSet_Contains(t *testing.T) {
	set := NewTrustedSet(
		netip.MustParsePrefix("10.1.2.3/8"),
		netip.MustParsePrefix("2001:db8::/48"),
		netip.MustParsePrefix("::ffff:192.168.0.0/112"),
	)

	assert.Equal(t, []string{"10.0.0.0/8", "2001:db8::/48", "192.168.0.0/16"}, set.Strings())

	tests := []struct {
		ip   string
		want bool
	}{
		{ip: "10.200.0.1", want: true},
		{ip: "11.0.0.1", want: false},
		{ip: "2001:db8:0:1::1", want: true},
		{ip: "2001:db8:1::1", want: false},
		{ip: "192.168.9.9", want: true},
		{ip: "::ffff:10.0.0.1", want: true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, set.Contains(netip.MustParseAddr(tt.ip)), tt.ip)
	}

	assert.False(t, set.Contains(netip.Addr{}))
	assert.False(t, TrustedSet{}.Contains(netip.MustParseAddr("10.0.0.1")))
}
