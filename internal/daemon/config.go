package daemon

import (
	"fmt"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/coordinator"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/gce"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/remote"
	"github.com/spf13/pflag"
)

const (
	DefaultAddress  = ":8080"
	DefaultDatabase = "postgres:///ci?host=/var/run/postgresql"

	// DefaultCacheSize is the maximum size of the output cache in MB.
	DefaultCacheSize = 200
	DefaultCacheTTL  = 10 * time.Minute
)

// Config configures the coordinator daemon.
type Config struct {
	Address              string
	Database             string
	SSL                  bool
	CertFile, KeyFile    string
	EnableRequestLogging bool
	DisableScheduler     bool
	CacheSize            int
	CacheTTL             time.Duration

	Fleet       *fleet.Config
	GCE         *gce.Config
	Remote      *remote.Config
	Coordinator *coordinator.Config
}

// NewDefaultConfig constructs a daemon configuration with defaults.
func NewDefaultConfig() Config {
	return Config{
		Address:     DefaultAddress,
		Database:    DefaultDatabase,
		CacheSize:   DefaultCacheSize,
		CacheTTL:    DefaultCacheTTL,
		Fleet:       fleet.NewDefaultConfig(),
		GCE:         &gce.Config{},
		Remote:      remote.NewDefaultConfig(),
		Coordinator: coordinator.NewDefaultConfig(),
	}
}

func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVar(&cfg.Address, "address", cfg.Address, "Listening address")
	flags.StringVar(&cfg.Database, "database", cfg.Database, "Postgres connection string")
	flags.BoolVar(&cfg.SSL, "ssl", false, "Toggle SSL")
	flags.StringVar(&cfg.CertFile, "cert-file", "", "Path to SSL certificate (required if enabling SSL)")
	flags.StringVar(&cfg.KeyFile, "key-file", "", "Path to SSL key (required if enabling SSL)")
	flags.BoolVar(&cfg.EnableRequestLogging, "log-http-requests", false, "Log HTTP requests")
	flags.BoolVar(&cfg.DisableScheduler, "disable-scheduler", false, "Do not schedule CI jobs onto servers.")
	flags.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "Maximum size of the output cache in MB. 0 means unlimited.")
	flags.DurationVar(&cfg.CacheTTL, "cache-expiry", cfg.CacheTTL, "Cached output expiry.")

	fleet.RegisterFlags(flags, cfg.Fleet)
	gce.RegisterFlags(flags, cfg.GCE)
	remote.RegisterFlags(flags, cfg.Remote)
	coordinator.RegisterFlags(flags, cfg.Coordinator)
}

func (cfg *Config) Valid() error {
	if cfg.Fleet.MaxControlledServers < 0 {
		return fmt.Errorf("max controlled servers cannot be negative: %d", cfg.Fleet.MaxControlledServers)
	}
	if cfg.Coordinator.ReconnectGrace <= 0 {
		return fmt.Errorf("reconnect grace must be positive: %s", cfg.Coordinator.ReconnectGrace)
	}
	return nil
}
