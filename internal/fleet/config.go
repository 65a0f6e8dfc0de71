package fleet

import (
	"time"

	"github.com/spf13/pflag"
)

const (
	DefaultMaxControlledServers = 2
	DefaultTickInterval         = 10 * time.Second
	DefaultStatusCheckInterval  = 15 * time.Second
	DefaultIdleTimeout          = 10 * time.Minute
	DefaultProviderTimeout      = 2 * time.Minute
	DefaultLaunchTimeout        = time.Minute
)

type Config struct {
	// MaxControlledServers is the maximum number of cloud instances,
	// whatever their status.
	MaxControlledServers int
	TickInterval         time.Duration
	// StatusCheckInterval is the minimum time between polls of a single
	// server's instance status.
	StatusCheckInterval time.Duration
	// IdleTimeout is how long an unreserved controlled server keeps
	// running before it is stopped.
	IdleTimeout time.Duration
	// Hibernate suspends instead of stopping idle instances.
	Hibernate       bool
	ProviderTimeout time.Duration
	LaunchTimeout   time.Duration
	// ConnectBaseURL is the URL agents connect back to the coordinator on.
	ConnectBaseURL string
}

func NewDefaultConfig() *Config {
	return &Config{
		MaxControlledServers: DefaultMaxControlledServers,
		TickInterval:         DefaultTickInterval,
		StatusCheckInterval:  DefaultStatusCheckInterval,
		IdleTimeout:          DefaultIdleTimeout,
		ProviderTimeout:      DefaultProviderTimeout,
		LaunchTimeout:        DefaultLaunchTimeout,
	}
}

func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.IntVar(&cfg.MaxControlledServers, "max-controlled-servers", cfg.MaxControlledServers, "Maximum number of cloud instances to run CI jobs on.")
	flags.DurationVar(&cfg.TickInterval, "scheduler-interval", cfg.TickInterval, "Interval between scheduling runs.")
	flags.DurationVar(&cfg.StatusCheckInterval, "status-check-interval", cfg.StatusCheckInterval, "Minimum interval between instance status checks.")
	flags.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Stop cloud instances that have been idle for this long.")
	flags.BoolVar(&cfg.Hibernate, "hibernate", cfg.Hibernate, "Suspend rather than stop idle cloud instances.")
	flags.DurationVar(&cfg.ProviderTimeout, "provider-timeout", cfg.ProviderTimeout, "Timeout for each cloud provider call.")
	flags.DurationVar(&cfg.LaunchTimeout, "agent-launch-timeout", cfg.LaunchTimeout, "Timeout for starting the agent on a server.")
	flags.StringVar(&cfg.ConnectBaseURL, "connect-url", cfg.ConnectBaseURL, "Base URL agents connect to. Defaults to the coordinator's own URL.")
}
