// Package daemon configures and starts the coordinator daemon and its
// subsystems.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/coordinator"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/gce"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/http"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/remote"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/sql"
	"github.com/allegro/bigcache"
	"golang.org/x/sync/errgroup"
)

type Daemon struct {
	Config
	logr.Logger

	*sql.DB

	Coordinator *coordinator.Coordinator

	// ListenAddress is the listening address of the daemon's http server,
	// e.g. localhost:8080
	ListenAddress *net.TCPAddr

	jobs     *fleet.DB
	provider fleet.Provider
	remote   *remote.Client
	cache    *bigcache.BigCache
}

// New constructs a new daemon and establishes a connection to the database.
func New(ctx context.Context, logger logr.Logger, cfg Config) (*Daemon, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	cache, err := newCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("setting up cache: %w", err)
	}
	logger.Info("started cache", "max_size", cfg.CacheSize, "ttl", cfg.CacheTTL)

	provider, err := gce.New(ctx, logger, *cfg.GCE)
	if err != nil {
		return nil, fmt.Errorf("setting up cloud provider: %w", err)
	}
	remoteClient, err := remote.New(logger, *cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("setting up ssh client: %w", err)
	}

	db, err := sql.New(ctx, logger, cfg.Database)
	if err != nil {
		return nil, err
	}
	jobs := &fleet.DB{DB: db}

	coord := coordinator.New(logger, coordinator.Options{
		Config: *cfg.Coordinator,
		Jobs:   jobs,
		Output: &coordinator.DB{DB: db},
		Cache:  cache,
	})

	return &Daemon{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Coordinator: coord,
		jobs:        jobs,
		provider:    provider,
		remote:      remoteClient,
		cache:       cache,
	}, nil
}

func newCache(cfg Config) (*bigcache.BigCache, error) {
	defaults := bigcache.DefaultConfig(DefaultCacheTTL)
	if cfg.CacheTTL != 0 {
		defaults.LifeWindow = cfg.CacheTTL
	}
	if cfg.CacheSize != 0 {
		defaults.HardMaxCacheSize = cfg.CacheSize
	}
	return bigcache.NewBigCache(defaults)
}

// Start the daemon and block until ctx is cancelled or an error is
// returned. The started channel is closed once the daemon has started.
func (d *Daemon) Start(ctx context.Context, started chan struct{}) error {
	// Cancel context the first time a func started with g.Go() fails
	g, ctx := errgroup.WithContext(ctx)

	// close all db connections upon exit
	defer d.DB.Close()

	// garbage collect cache upon exit
	defer func() {
		if err := d.cache.Close(); err != nil {
			d.Error(err, "closing cache")
		}
	}()

	// Construct web server and start listening on port
	server, err := http.NewServer(d.Logger, http.ServerConfig{
		SSL:                  d.SSL,
		CertFile:             d.CertFile,
		KeyFile:              d.KeyFile,
		EnableRequestLogging: d.EnableRequestLogging,
		Handlers:             []http.Handlers{d.Coordinator},
	})
	if err != nil {
		return fmt.Errorf("setting up http server: %w", err)
	}
	ln, err := net.Listen("tcp", d.Address)
	if err != nil {
		return err
	}
	d.ListenAddress = ln.Addr().(*net.TCPAddr)

	defer ln.Close()

	// Unless the user has set a connect URL, agents connect back to the
	// listening address of the http server.
	if d.Fleet.ConnectBaseURL == "" {
		d.Fleet.ConnectBaseURL = d.defaultConnectURL()
	}
	d.V(0).Info("set agent connect url", "url", d.Fleet.ConnectBaseURL)

	// Start subsystems. Subsystems are started in order.
	subsystems := []*Subsystem{
		{
			Name:   "output-purger",
			Logger: d.Logger,
			DB:     d.DB,
			LockID: internal.Ptr(sql.OutputPurgerLockID),
			System: d.Coordinator.NewPurger(),
		},
	}
	if !d.DisableScheduler {
		subsystems = append(subsystems, &Subsystem{
			Name:   "scheduler",
			Logger: d.Logger,
			DB:     d.DB,
			LockID: internal.Ptr(sql.FleetSchedulerLockID),
			System: fleet.NewScheduler(d.Logger, fleet.Options{
				Config:      *d.Fleet,
				Store:       d.jobs,
				Provider:    d.provider,
				Launcher:    d.remote,
				Provisioner: d.remote,
				Listener:    d.DB,
			}),
		})
	}
	for _, ss := range subsystems {
		if err := ss.Start(ctx, g); err != nil {
			return err
		}
	}

	// Run HTTP server
	g.Go(func() error {
		if err := server.Start(ctx, ln); err != nil {
			return fmt.Errorf("http server terminated: %w", err)
		}
		return nil
	})

	// Inform the caller the daemon has started
	close(started)

	// Block until error or Ctrl-C received.
	return g.Wait()
}

func (d *Daemon) defaultConnectURL() string {
	scheme := "http"
	if d.SSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: internal.NormalizeAddress(d.ListenAddress)}
	return u.String()
}
