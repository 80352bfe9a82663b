package util

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFixedStringHash(t *testing.T) {
	h1, err := NewFixedStringHash("a", "b", "c")
	require.NoError(t, err)
	h2, err := NewFixedStringHash("abc")
	require.NoError(t, err)
	require.Equal(t, h1, h2, "concatenation order must match hashing order")

	_, err = NewFixedStringHash()
	require.Error(t, err)

	_, err = NewFixedStringHash("")
	require.Error(t, err)
}

func TestFixedStringHex(t *testing.T) {
	h, err := NewFixedStringHash("hello")
	require.NoError(t, err)
	require.Len(t, h.Hex(), 32)
	require.Equal(t, h.Hex(), h.String())
}

func TestParseSubnetsAndContainsIP(t *testing.T) {
	subnets, err := ParseSubnets([]string{"192.168.1.0/24", "10.0.0.5"})
	require.NoError(t, err)
	require.True(t, ContainsIP(subnets, net.ParseIP("192.168.1.42")))
	require.True(t, ContainsIP(subnets, net.ParseIP("10.0.0.5")))
	require.False(t, ContainsIP(subnets, net.ParseIP("8.8.8.8")))

	_, err = ParseSubnets([]string{"not-an-ip"})
	require.Error(t, err)
}

func TestIPIsPubliclyRoutable(t *testing.T) {
	require.False(t, IPIsPubliclyRoutable(net.ParseIP("10.0.0.1")))
	require.False(t, IPIsPubliclyRoutable(net.ParseIP("192.168.1.1")))
	require.False(t, IPIsPubliclyRoutable(net.ParseIP("127.0.0.1")))
	require.False(t, IPIsPubliclyRoutable(net.ParseIP("fc00::1")))
	require.True(t, IPIsPubliclyRoutable(net.ParseIP("8.8.8.8")))
	require.True(t, IPIsPubliclyRoutable(net.ParseIP("45.33.32.156")))
}

func TestContainsDomain(t *testing.T) {
	domains := []string{"*.example.com", "exact.org"}
	require.True(t, ContainsDomain(domains, "a.example.com"))
	require.True(t, ContainsDomain(domains, "example.com"))
	require.True(t, ContainsDomain(domains, "exact.org"))
	require.False(t, ContainsDomain(domains, "other.org"))
}

func TestIPv4ToUint32(t *testing.T) {
	require.Equal(t, uint32(0x0A000001), IPv4ToUint32("10.0.0.1"))
	require.Equal(t, uint32(0), IPv4ToUint32("not-an-ip"))
	require.Equal(t, uint32(0), IPv4ToUint32("2001:db8::1"))
}
