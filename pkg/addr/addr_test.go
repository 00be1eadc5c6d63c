package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBound(t *testing.T) {
	t.Run("wildcard interface", func(t *testing.T) {
		b, err := SplitBound("*:5555")
		require.NoError(t, err)
		assert.Equal(t, "*", b.Iface)
		assert.Equal(t, uint16(5555), b.Port)
	})

	t.Run("named interface", func(t *testing.T) {
		b, err := SplitBound("eth0:5555")
		require.NoError(t, err)
		assert.Equal(t, "eth0", b.Iface)
		assert.Equal(t, uint16(5555), b.Port)
	})

	t.Run("missing port separator", func(t *testing.T) {
		_, err := SplitBound("eth0")
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("non-numeric port", func(t *testing.T) {
		_, err := SplitBound("eth0:abc")
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("rightmost colon wins, misparsing a bracketed IPv6 literal", func(t *testing.T) {
		// Deliberately naive per the split rule: the rightmost ':' is taken as
		// the port separator, so the brackets stay on the interface part and
		// it no longer parses as an IP literal.
		b, err := SplitBound("[::1]:5555")
		require.NoError(t, err)
		assert.Equal(t, "[::1]", b.Iface)
		assert.Equal(t, uint16(5555), b.Port)
		assert.False(t, IsLiteral(b.Iface))
	})
}

func TestSplitConnected(t *testing.T) {
	t.Run("host and port only", func(t *testing.T) {
		c, err := SplitConnected("example.com:5555")
		require.NoError(t, err)
		assert.Equal(t, "", c.LocalIface)
		assert.Equal(t, "example.com", c.Host)
		assert.Equal(t, uint16(5555), c.Port)
	})

	t.Run("local interface prefix", func(t *testing.T) {
		c, err := SplitConnected("eth0;example.com:5555")
		require.NoError(t, err)
		assert.Equal(t, "eth0", c.LocalIface)
		assert.Equal(t, "example.com", c.Host)
		assert.Equal(t, uint16(5555), c.Port)
	})

	t.Run("empty host is invalid", func(t *testing.T) {
		_, err := SplitConnected(":5555")
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("port out of range", func(t *testing.T) {
		_, err := SplitConnected("example.com:70000")
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestIsLiteral(t *testing.T) {
	assert.True(t, IsLiteral("127.0.0.1"))
	assert.True(t, IsLiteral("::1"))
	assert.False(t, IsLiteral("example.com"))
}

func TestValidHostname(t *testing.T) {
	assert.True(t, ValidHostname("example.com"))
	assert.True(t, ValidHostname("a.b-c.d"))
	assert.False(t, ValidHostname(""))
	assert.False(t, ValidHostname("-leading.com"))
	assert.False(t, ValidHostname("trailing-.com"))
}

func TestResolveInterface(t *testing.T) {
	t.Run("wildcard ipv4", func(t *testing.T) {
		ip, err := ResolveInterface("*", true)
		require.NoError(t, err)
		assert.True(t, ip.IsUnspecified())
		assert.NotNil(t, ip.To4())
	})

	t.Run("wildcard ipv6", func(t *testing.T) {
		ip, err := ResolveInterface("", false)
		require.NoError(t, err)
		assert.True(t, ip.IsUnspecified())
	})

	t.Run("literal address passthrough", func(t *testing.T) {
		ip, err := ResolveInterface("127.0.0.1", true)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", ip.String())
	})

	t.Run("unknown device", func(t *testing.T) {
		_, err := ResolveInterface("not-a-real-device-xyz", false)
		assert.ErrorIs(t, err, ErrNoDev)
	})
}
