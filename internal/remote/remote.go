// Package remote runs commands on CI servers over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultUser        = "root"
	DefaultPort        = 22
	DefaultAgentPath   = "/usr/local/bin/ci-agent"
	DefaultDialTimeout = 30 * time.Second
)

// DefaultProvisionCommands install what the agent needs on a fresh server.
var DefaultProvisionCommands = []string{
	"dnf install -y podman git git-lfs",
	"git lfs install --system",
	"mkdir -p /executor_cache",
}

type Config struct {
	User string
	Port int
	// KeyFile is the private key used for controlled servers, and for
	// external servers without a key of their own.
	KeyFile string
	// KnownHostsFile verifies server host keys. Without one any host key is
	// accepted.
	KnownHostsFile    string
	AgentPath         string
	ProvisionCommands []string
	DialTimeout       time.Duration
}

func NewDefaultConfig() *Config {
	return &Config{
		User:              DefaultUser,
		Port:              DefaultPort,
		AgentPath:         DefaultAgentPath,
		ProvisionCommands: DefaultProvisionCommands,
		DialTimeout:       DefaultDialTimeout,
	}
}

func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVar(&cfg.User, "ssh-user", cfg.User, "User to log in to CI servers as.")
	flags.IntVar(&cfg.Port, "ssh-port", cfg.Port, "SSH port of CI servers.")
	flags.StringVar(&cfg.KeyFile, "ssh-key", cfg.KeyFile, "Private key for logging in to CI servers.")
	flags.StringVar(&cfg.KnownHostsFile, "ssh-known-hosts", cfg.KnownHostsFile, "Known hosts file for verifying CI servers.")
	flags.StringVar(&cfg.AgentPath, "agent-path", cfg.AgentPath, "Path of the agent binary on CI servers.")
	flags.StringSliceVar(&cfg.ProvisionCommands, "provision-command", cfg.ProvisionCommands, "Command run on new cloud servers. Can be repeated.")
	flags.DurationVar(&cfg.DialTimeout, "ssh-dial-timeout", cfg.DialTimeout, "Timeout for connecting to CI servers.")
}

// Client implements fleet.AgentLauncher and fleet.Provisioner.
type Client struct {
	logger          logr.Logger
	config          Config
	signer          ssh.Signer
	hostKeyCallback ssh.HostKeyCallback
}

func New(logger logr.Logger, cfg Config) (*Client, error) {
	c := &Client{
		logger: logger.WithValues("component", "ssh"),
		config: cfg,
	}
	if cfg.KeyFile != "" {
		signer, err := loadSigner(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		c.signer = signer
	}
	if cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("reading known hosts: %w", err)
		}
		c.hostKeyCallback = callback
	} else {
		c.hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return c, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key %s: %w", path, err)
	}
	return signer, nil
}

// Provision runs the provisioning commands on the server in order.
func (c *Client) Provision(ctx context.Context, server *fleet.Server) error {
	for _, command := range c.config.ProvisionCommands {
		if err := c.Run(ctx, server, command, nil); err != nil {
			return err
		}
	}
	c.logger.Info("provisioned server", "server", server)
	return nil
}

// LaunchAgent starts the agent in the background on the server. The job's
// environment is passed over stdin so that secrets do not appear on the
// command line.
func (c *Client) LaunchAgent(ctx context.Context, server *fleet.Server, job *fleet.CIJob, connectURL string) error {
	script := launchScript(c.config.AgentPath, job, connectURL)
	if err := c.Run(ctx, server, "bash -s", strings.NewReader(script)); err != nil {
		return err
	}
	c.logger.V(1).Info("launched agent", "server", server, "job", job)
	return nil
}

// Run runs a command on the server, returning an error if it exits nonzero.
func (c *Client) Run(ctx context.Context, server *fleet.Server, command string, stdin io.Reader) error {
	client, err := c.dial(ctx, server)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr
	session.Stdin = stdin

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()
	select {
	case <-ctx.Done():
		client.Close()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("running %q on %s: %w (stderr: %s)",
				command, server.PublicAddress, err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}
}

func (c *Client) dial(ctx context.Context, server *fleet.Server) (*ssh.Client, error) {
	if server.PublicAddress == "" {
		return nil, errors.New("server has no address")
	}
	signer := c.signer
	if server.SSHKeyFile != "" {
		var err error
		if signer, err = loadSigner(server.SSHKeyFile); err != nil {
			return nil, err
		}
	}
	if signer == nil {
		return nil, errors.New("no ssh key configured")
	}
	addr := server.PublicAddress
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(c.config.Port))
	}
	cfg := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}
