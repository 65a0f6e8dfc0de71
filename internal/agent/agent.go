// Package agent runs a single CI job on a build server and streams its
// progress to the server it was started by.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/process"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/protocol"
	"github.com/cenkalti/backoff/v4"
)

// finalReportTimeout bounds the attempt to deliver the final status over a
// new connection.
const finalReportTimeout = 30 * time.Second

// ErrFinalStatusNotDelivered is returned when the server could not be told
// the outcome of the job.
var ErrFinalStatusNotDelivered = errors.New("final status was not delivered")

// Agent runs one job.
type Agent struct {
	logger logr.Logger
	config Config
	env    *Environment

	conn       *protocol.Conn
	sender     *protocol.Sender
	downloader *downloader
	run        runFunc

	// closing is set once the connection is being shut down, after which
	// read errors are expected.
	closing atomic.Bool
}

// New constructs an agent connecting to serverURL.
func New(logger logr.Logger, cfg Config, env *Environment, serverURL string) (*Agent, error) {
	dial, err := protocol.WebsocketDialer(serverURL, nil)
	if err != nil {
		return nil, err
	}
	return newAgent(logger, cfg, env, serverURL, dial)
}

func newAgent(logger logr.Logger, cfg Config, env *Environment, serverURL string, dial protocol.Dialer) (*Agent, error) {
	dl, err := newDownloader(logger, serverURL, cfg.ImageDownloadRetries)
	if err != nil {
		return nil, err
	}
	conn := protocol.NewConn(dial, cfg.MaxMessageLength)
	return &Agent{
		logger:     logger.WithValues("job", env.JobName),
		config:     cfg,
		env:        env,
		conn:       conn,
		sender:     protocol.NewSender(logger, conn, protocol.SenderOptions{}),
		downloader: dl,
		run:        process.Run,
	}, nil
}

// Run builds the job and reports its outcome to the server. It returns
// ErrFinalStatusNotDelivered if the outcome could not be reported; the
// outcome of the build itself is only reported to the server.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting job", "environment", a.env)

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		_ = a.sender.Start(context.Background())
	}()

	connected := make(chan error, 1)
	connectDone := make(chan struct{})
	go func() {
		defer close(connectDone)
		err := a.connect(ctx)
		if err == nil {
			go a.read()
		}
		connected <- err
	}()

	op := &operation{
		logger:     a.logger,
		env:        a.env,
		config:     a.config,
		sender:     a.sender,
		downloader: a.downloader,
		run:        a.run,
		connected:  connected,
	}
	succeeded, err := op.do(ctx)
	if err != nil {
		a.logger.Error(err, "build failed to run")
	} else {
		a.logger.Info("build finished", "success", succeeded)
	}

	// post-build always runs, regardless of cancelation. An early failure
	// may have left the connection attempt running.
	<-connectDone
	a.sender.Final(err == nil && succeeded)
	a.sender.Close()
	<-senderDone

	a.closing.Store(true)
	reportErr := a.ensureReported(err == nil && succeeded)
	if err := a.conn.Close(); err != nil {
		a.logger.V(1).Info("closing connection", "error", err.Error())
	}
	return reportErr
}

// connect establishes the connection, retrying with exponential backoff
// for up to the configured timeout.
func (a *Agent) connect(ctx context.Context) error {
	policy := backoff.WithContext(
		backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(a.config.ConnectTimeout)),
		ctx,
	)
	return backoff.RetryNotify(func() error {
		return a.conn.Connect(ctx)
	}, policy, func(err error, next time.Duration) {
		a.logger.Error(err, "connecting to server", "backoff", next)
	})
}

// read logs messages from the server until the connection ends. Nothing
// the server sends is acted upon.
func (a *Agent) read() {
	for {
		msg, err := a.conn.Read()
		switch {
		case errors.Is(err, io.EOF):
			a.logger.V(1).Info("server closed connection")
			return
		case err != nil:
			if a.closing.Load() {
				return
			}
			a.logger.Error(err, "reading from server")
			a.sender.Fail(err)
			return
		case msg != nil:
			a.logger.V(2).Info("received message", "message", msg)
		}
	}
}

// ensureReported checks the final status reached the server, making one
// attempt over a new connection if it did not.
func (a *Agent) ensureReported(success bool) error {
	if a.sender.Err() == nil && a.conn.Connected() && len(a.sender.Pending()) == 0 {
		return nil
	}
	a.logger.Info("retrying delivery of final status over a new connection")

	ctx, cancel := context.WithTimeout(context.Background(), finalReportTimeout)
	defer cancel()
	if err := a.conn.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrFinalStatusNotDelivered, err)
	}
	if err := a.conn.Write(protocol.FinalStatus{WasSuccessful: success}); err != nil {
		return fmt.Errorf("%w: %w", ErrFinalStatusNotDelivered, err)
	}
	return nil
}
