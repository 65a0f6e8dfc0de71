// Package coordinator relays the progress of CI jobs from their agents into
// the job store.
package coordinator

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/http/decode"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/protocol"
	term2html "github.com/buildkite/terminal-to-html"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

const (
	DefaultReconnectGrace  = time.Minute
	DefaultOutputRetention = 90 * 24 * time.Hour
)

type Config struct {
	// ImagesDir holds the packaged container images agents download.
	ImagesDir        string
	MaxMessageLength int
	// ReconnectGrace is how long a job whose agent disconnected without
	// reporting a final status waits for the agent to reconnect before it
	// is failed.
	ReconnectGrace  time.Duration
	OutputRetention time.Duration
}

func NewDefaultConfig() *Config {
	return &Config{
		MaxMessageLength: protocol.DefaultMaxMessageLength,
		ReconnectGrace:   DefaultReconnectGrace,
		OutputRetention:  DefaultOutputRetention,
	}
}

func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVar(&cfg.ImagesDir, "images-dir", cfg.ImagesDir, "Directory of packaged build images served to agents.")
	flags.IntVar(&cfg.MaxMessageLength, "max-message-length", cfg.MaxMessageLength, "Maximum length of a message from an agent.")
	flags.DurationVar(&cfg.ReconnectGrace, "reconnect-grace", cfg.ReconnectGrace, "Time allowed for a disconnected agent to reconnect.")
	flags.DurationVar(&cfg.OutputRetention, "output-retention", cfg.OutputRetention, "Purge job output this long after the job finishes. Zero disables purging.")
}

// jobStore is the part of the fleet store the coordinator uses.
type jobStore interface {
	GetJob(ctx context.Context, id fleet.JobID) (*fleet.CIJob, error)
	UpdateJob(ctx context.Context, id fleet.JobID, fn func(*fleet.CIJob) error) (*fleet.CIJob, error)
	UpdateServer(ctx context.Context, id int64, fn func(*fleet.Server) error) (*fleet.Server, error)
}

// Coordinator accepts agent connections and serves what agents and job
// viewers need.
type Coordinator struct {
	logger logr.Logger
	config Config
	jobs   jobStore
	output *outputProxy

	upgrader websocket.Upgrader
	now      func() time.Time

	mu sync.Mutex
	// active holds the current connection of each job
	active map[fleet.JobID]*session
	// abandoned holds timers failing jobs whose agent disconnected
	abandoned map[fleet.JobID]*time.Timer
}

// session is one agent connection.
type session struct {
	stream io.Closer
	// superseded is set, under the coordinator's lock, when a newer
	// connection for the same job replaces this one.
	superseded bool
}

type Options struct {
	Config
	Jobs   jobStore
	Output OutputStore
	Cache  Cache
}

func New(logger logr.Logger, opts Options) *Coordinator {
	return &Coordinator{
		logger:    logger.WithValues("component", "coordinator"),
		config:    opts.Config,
		jobs:      opts.Jobs,
		output:    &outputProxy{OutputStore: opts.Output, cache: opts.Cache},
		now:       internal.CurrentTimestamp,
		active:    make(map[fleet.JobID]*session),
		abandoned: make(map[fleet.JobID]*time.Timer),
	}
}

func (c *Coordinator) AddHandlers(r *mux.Router) {
	r.HandleFunc("/ci/connect/{project}/{build}/{job}", c.connect).Methods("GET")
	r.HandleFunc("/ci/images/{filename}", c.image).Methods("GET", "HEAD")
	r.HandleFunc("/ci/output/{project}/{build}/{job}", c.listSections).Methods("GET")
	r.HandleFunc("/ci/output/{project}/{build}/{job}/{section}", c.sectionOutput).Methods("GET")
}

type (
	jobParams struct {
		Project int64 `schema:"project,required"`
		Build   int64 `schema:"build,required"`
		Job     int64 `schema:"job,required"`
	}

	connectParams struct {
		Project int64  `schema:"project,required"`
		Build   int64  `schema:"build,required"`
		Job     int64  `schema:"job,required"`
		Key     string `schema:"key,required"`
	}

	sectionParams struct {
		Project int64 `schema:"project,required"`
		Build   int64 `schema:"build,required"`
		Job     int64 `schema:"job,required"`
		Section int   `schema:"section,required"`
		// Offset is the number of bytes of output to skip
		Offset int `schema:"offset"`
		// Format is either text (the default) or html
		Format string `schema:"format"`
	}
)

func (p jobParams) id() fleet.JobID {
	return fleet.JobID{Project: p.Project, Build: p.Build, Job: p.Job}
}

func (p connectParams) id() fleet.JobID {
	return fleet.JobID{Project: p.Project, Build: p.Build, Job: p.Job}
}

func (p sectionParams) id() fleet.JobID {
	return fleet.JobID{Project: p.Project, Build: p.Build, Job: p.Job}
}

func (c *Coordinator) connect(w http.ResponseWriter, r *http.Request) {
	var params connectParams
	if err := decode.All(&params, r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := params.id()
	job, err := c.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.ConnectKey == "" || subtle.ConstantTimeCompare([]byte(job.ConnectKey), []byte(params.Key)) != 1 {
		writeError(w, internal.ErrUnauthorized)
		return
	}
	if job.State != fleet.JobRunning {
		http.Error(w, "job is not running", http.StatusConflict)
		return
	}
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already responded
		c.logger.Error(err, "upgrading agent connection", "job", job)
		return
	}
	c.logger.V(1).Info("agent connected", "job", job, "remote", r.RemoteAddr)
	c.relay(r.Context(), id, protocol.NewWebsocketStream(ws))
}

// attach registers a new connection for the job, cancelling any pending
// failure of the job. An older connection for the job is closed.
func (c *Coordinator) attach(id fleet.JobID, stream io.Closer) *session {
	c.mu.Lock()
	if timer, ok := c.abandoned[id]; ok {
		timer.Stop()
		delete(c.abandoned, id)
	}
	old := c.active[id]
	if old != nil {
		old.superseded = true
	}
	s := &session{stream: stream}
	c.active[id] = s
	c.mu.Unlock()

	if old != nil {
		c.logger.Info("closing superseded agent connection", "job", id.String())
		old.stream.Close()
	}
	return s
}

func (c *Coordinator) isSuperseded(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.superseded
}

// detach unregisters the connection. Unless the job has finished it is
// failed once the reconnect grace period passes without a new connection.
func (c *Coordinator) detach(id fleet.JobID, s *session, finished bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[id] != s {
		// superseded by a newer connection
		return
	}
	delete(c.active, id)
	if finished {
		return
	}
	c.abandoned[id] = time.AfterFunc(c.config.ReconnectGrace, func() {
		c.mu.Lock()
		delete(c.abandoned, id)
		c.mu.Unlock()

		c.logger.Info("agent did not reconnect", "job", id.String())
		if err := c.finishJob(context.Background(), id, false); err != nil {
			c.logger.Error(err, "failing abandoned job", "job", id.String())
		}
	})
}

func (c *Coordinator) finishJob(ctx context.Context, id fleet.JobID, success bool) error {
	now := c.now()
	job, err := c.jobs.UpdateJob(ctx, id, func(job *fleet.CIJob) error {
		return job.Finish(success, now)
	})
	if err != nil {
		return err
	}
	if err := c.output.FailOpenSections(ctx, id, now); err != nil {
		c.logger.Error(err, "closing open sections", "job", job)
	}
	if job.RunningOnServer != nil {
		_, err := c.jobs.UpdateServer(ctx, *job.RunningOnServer, func(server *fleet.Server) error {
			if server.IsReservedFor(id) {
				server.Release(now)
			}
			return nil
		})
		if err != nil {
			c.logger.Error(err, "releasing server", "job", job, "server", *job.RunningOnServer)
		}
	}
	c.logger.Info("job finished", "job", job, "succeeded", success)
	return nil
}

func (c *Coordinator) image(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if c.config.ImagesDir == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(c.config.ImagesDir, name)
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (c *Coordinator) listSections(w http.ResponseWriter, r *http.Request) {
	var params jobParams
	if err := decode.Route(&params, r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sections, err := c.output.ListSections(r.Context(), params.id())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sections)
}

func (c *Coordinator) sectionOutput(w http.ResponseWriter, r *http.Request) {
	var params sectionParams
	if err := decode.All(&params, r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if params.Offset < 0 {
		http.Error(w, "offset cannot be negative", http.StatusBadRequest)
		return
	}
	output, err := c.output.output(r.Context(), params.id(), params.Section)
	if err != nil {
		writeError(w, err)
		return
	}
	if params.Offset > len(output) {
		params.Offset = len(output)
	}
	chunk := []byte(output[params.Offset:])

	switch params.Format {
	case "", "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(chunk)
	case "html":
		// convert ANSI escape sequences to HTML
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(term2html.Render(chunk))
	default:
		http.Error(w, "unknown format: "+params.Format, http.StatusBadRequest)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, internal.ErrResourceNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, internal.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
