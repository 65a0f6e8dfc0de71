package internal

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	got, err := ParseAddr("192.168.1.10:22")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", got.String())

	_, err = ParseAddr("not-an-address")
	assert.Error(t, err)
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name string
		addr *net.TCPAddr
		want string
	}{
		{"ipv4", &net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 8080}, "10.1.2.3:8080"},
		{"ipv6", &net.TCPAddr{IP: net.ParseIP("fd00::1"), Port: 443}, "[fd00::1]:443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.addr))
		})
	}

	t.Run("unspecified", func(t *testing.T) {
		got := NormalizeAddress(&net.TCPAddr{IP: net.IPv4zero, Port: 8080})
		host, port, err := net.SplitHostPort(got)
		require.NoError(t, err)
		assert.Equal(t, "8080", port)
		assert.False(t, net.ParseIP(host).IsUnspecified())
	})
}
