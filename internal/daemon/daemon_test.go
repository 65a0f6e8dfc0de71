package daemon

import (
	"context"
	"net"
	"testing"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemon_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Fleet.MaxControlledServers = -1
	_, err := New(context.Background(), logr.Discard(), cfg)
	assert.Error(t, err)
}

func TestRegisterFlags(t *testing.T) {
	cfg := NewDefaultConfig()
	flags := pflag.NewFlagSet("testing", pflag.ContinueOnError)
	RegisterFlags(flags, &cfg)

	err := flags.Parse([]string{
		"--max-controlled-servers", "5",
		"--reconnect-grace", "30s",
		"--gce-project", "ci-project",
		"--ssh-user", "fedora",
		"--cache-size", "50",
	})
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Fleet.MaxControlledServers)
	assert.Equal(t, "30s", cfg.Coordinator.ReconnectGrace.String())
	assert.Equal(t, "ci-project", cfg.GCE.Project)
	assert.Equal(t, "fedora", cfg.Remote.User)
	assert.Equal(t, 50, cfg.CacheSize)
	assert.NoError(t, cfg.Valid())
}

func TestDaemon_DefaultConnectURL(t *testing.T) {
	d := &Daemon{ListenAddress: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 8080}}
	assert.Equal(t, "http://10.0.0.1:8080", d.defaultConnectURL())

	d.SSL = true
	assert.Equal(t, "https://10.0.0.1:8080", d.defaultConnectURL())
}
