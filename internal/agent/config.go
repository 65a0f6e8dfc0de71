package agent

import (
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/protocol"
	"github.com/spf13/pflag"
)

const (
	DefaultConnectTimeout     = 2 * time.Minute
	DefaultImageDownloadRetry = 5
)

// Config is configuration for an agent, set by flags.
type Config struct {
	// MaxMessageLength bounds frames received from the coordinator.
	MaxMessageLength int
	// ConnectTimeout bounds the total time spent retrying the initial
	// connection.
	ConnectTimeout time.Duration
	// ImageDownloadRetries is the number of retries of a failed image
	// download.
	ImageDownloadRetries int
	// KeepScript leaves the generated build script on disk.
	KeepScript bool
}

func NewConfigFromFlags(flags *pflag.FlagSet) *Config {
	cfg := Config{}
	flags.IntVar(&cfg.MaxMessageLength, "max-message-length", protocol.DefaultMaxMessageLength, "Maximum length of a message received from the server")
	flags.DurationVar(&cfg.ConnectTimeout, "connect-timeout", DefaultConnectTimeout, "Give up connecting to the server after this long")
	flags.IntVar(&cfg.ImageDownloadRetries, "image-download-retries", DefaultImageDownloadRetry, "Number of times to retry a failed image download")
	flags.BoolVar(&cfg.KeepScript, "keep-script", false, "Keep the generated build script after the build")
	return &cfg
}
