package protocol

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
)

const (
	DefaultFlushInterval     = 100 * time.Millisecond
	DefaultKeepaliveInterval = 50 * time.Second
	DefaultMergeThreshold    = 4 * 1024

	// keepaliveOutput is sent after a period of silence so that proxies
	// with idle timeouts keep the connection open.
	keepaliveOutput = "..."
)

// ErrSenderClosed is returned by Start once Close has drained the queue.
var ErrSenderClosed = errors.New("sender closed")

// messageWriter is the transport a Sender flushes to.
type messageWriter interface {
	Write(Message) error
	Connected() bool
}

// SenderOptions tunes batching. Zero values use the defaults.
type SenderOptions struct {
	FlushInterval     time.Duration
	KeepaliveInterval time.Duration
	MergeThreshold    int
}

// Sender queues outgoing messages and owns the single goroutine that
// writes them. It also tracks the currently open section: at most one
// section is open at a time, and output sent while none is open is
// dropped.
type Sender struct {
	logger logr.Logger
	conn   messageWriter
	opts   SenderOptions

	mu          sync.Mutex
	queue       []Message
	sectionOpen bool
	finalQueued bool
	err         error // set once writing has failed

	lastSent time.Time
	closing  chan struct{}
	done     chan struct{}
	once     sync.Once
}

func NewSender(logger logr.Logger, conn messageWriter, opts SenderOptions) *Sender {
	if opts.FlushInterval == 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.MergeThreshold == 0 {
		opts.MergeThreshold = DefaultMergeThreshold
	}
	return &Sender{
		logger:  logger,
		conn:    conn,
		opts:    opts,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// StartSection opens a new section, first closing any section that is
// still open.
func (s *Sender) StartSection(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalQueued {
		return
	}
	if s.sectionOpen {
		s.push(SectionEnd{WasSuccessful: true})
	}
	s.push(SectionStart{SectionName: name})
	s.sectionOpen = true
}

// EndSection closes the open section. It is a no-op when none is open.
func (s *Sender) EndSection(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalQueued || !s.sectionOpen {
		return
	}
	s.push(SectionEnd{WasSuccessful: success})
	s.sectionOpen = false
}

// SectionOpen reports whether a section is currently open.
func (s *Sender) SectionOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sectionOpen
}

// Output queues text for the open section. Consecutive outputs are merged
// while the result stays within the merge threshold.
func (s *Sender) Output(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalQueued {
		return
	}
	if !s.sectionOpen {
		s.logger.V(2).Info("dropping output sent outside of a section", "bytes", len(text))
		return
	}
	if n := len(s.queue); n > 0 {
		if last, ok := s.queue[n-1].(BuildOutput); ok && len(last.Output)+len(text) <= s.opts.MergeThreshold {
			s.queue[n-1] = BuildOutput{Output: last.Output + text}
			return
		}
	}
	s.push(BuildOutput{Output: text})
}

// Final queues the final status, closing any open section with the same
// verdict. Everything queued afterwards is ignored.
func (s *Sender) Final(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalQueued {
		return
	}
	if s.sectionOpen {
		s.push(SectionEnd{WasSuccessful: success})
		s.sectionOpen = false
	}
	s.push(FinalStatus{WasSuccessful: success})
	s.finalQueued = true
}

// push queues msg; the caller holds mu.
func (s *Sender) push(msg Message) {
	if s.err != nil {
		return
	}
	s.queue = append(s.queue, msg)
}

// Fail marks the transport as unusable; queued and future messages are
// discarded.
func (s *Sender) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	s.queue = nil
}

// Err returns the error that stopped the sender from writing, if any.
func (s *Sender) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending returns the messages not yet written.
func (s *Sender) Pending() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.queue...)
}

// Start runs the writer loop until Close is called or ctx is canceled.
func (s *Sender) Start(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	s.lastSent = time.Now()
	for {
		select {
		case <-ticker.C:
			s.flush()
			s.keepalive()
		case <-s.closing:
			s.flush()
			return ErrSenderClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drains the queue and waits for the writer loop to exit. It must
// only be called after Start.
func (s *Sender) Close() {
	s.once.Do(func() { close(s.closing) })
	<-s.done
}

func (s *Sender) flush() {
	if !s.conn.Connected() {
		// keep queueing until a transport is established, unless the
		// transport has already failed.
		return
	}
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, msg := range batch {
		if err := s.conn.Write(msg); err != nil {
			s.logger.Error(err, "writing message; discarding further output")
			s.Fail(err)
			return
		}
		s.lastSent = time.Now()
	}
}

func (s *Sender) keepalive() {
	if time.Since(s.lastSent) < s.opts.KeepaliveInterval || !s.conn.Connected() || s.Err() != nil {
		return
	}
	if err := s.conn.Write(BuildOutput{Output: keepaliveOutput}); err != nil {
		s.logger.Error(err, "writing keepalive")
		s.Fail(err)
		return
	}
	s.lastSent = time.Now()
}
