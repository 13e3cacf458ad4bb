package resolver

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetResolver_Literal(t *testing.T) {
	addr, err := Default.Resolve(context.Background(), "tcp", "127.0.0.1:8080")
	require.NoError(t, err)
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", tcp.IP.String())
	assert.Equal(t, 8080, tcp.Port)

	addr, err = Default.Resolve(context.Background(), "tcp", "[::1]:443")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:443", addr.String())
}

func TestNetResolver_NamedPort(t *testing.T) {
	addr, err := Default.Resolve(context.Background(), "tcp", "127.0.0.1:http")
	require.NoError(t, err)
	assert.Equal(t, 80, addr.(*net.TCPAddr).Port)
}

func TestNetResolver_Unix(t *testing.T) {
	addr, err := Default.Resolve(context.Background(), "unix", "/tmp/test.sock")
	require.NoError(t, err)
	assert.Equal(t, &net.UnixAddr{Name: "/tmp/test.sock", Net: "unix"}, addr)
}

func TestNetResolver_MissingPort(t *testing.T) {
	_, err := Default.Resolve(context.Background(), "tcp", "example.com")
	assert.Error(t, err)
}

func TestPick(t *testing.T) {
	v4 := net.IPAddr{IP: net.ParseIP("10.0.0.1")}
	v6 := net.IPAddr{IP: net.ParseIP("fe80::1")}

	got, ok := pick("tcp", []net.IPAddr{v6, v4})
	require.True(t, ok)
	assert.Equal(t, v4, got)

	got, ok = pick("tcp6", []net.IPAddr{v4, v6})
	require.True(t, ok)
	assert.Equal(t, v6, got)

	_, ok = pick("tcp4", []net.IPAddr{v6})
	assert.False(t, ok)
}

func TestStatic(t *testing.T) {
	s := &Static{Hosts: map[string]string{"service.internal": "127.0.0.2"}}

	addr, err := s.Resolve(context.Background(), "tcp", "service.internal:9000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.2:9000", addr.String())

	addr, err = s.Resolve(context.Background(), "tcp", "127.0.0.3:1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.3:1", addr.String())
}

type recordingResolver struct{ addresses []string }

func (r *recordingResolver) Resolve(ctx context.Context, network, address string) (net.Addr, error) {
	r.addresses = append(r.addresses, address)
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 1}, nil
}

func TestStatic_Next(t *testing.T) {
	next := &recordingResolver{}
	s := &Static{Hosts: map[string]string{"a": "10.1.1.1"}, Next: next}

	_, err := s.Resolve(context.Background(), "tcp", "a:80")
	require.NoError(t, err)
	_, err = s.Resolve(context.Background(), "tcp", "b:81")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1.1.1:80", "b:81"}, next.addresses)
}
