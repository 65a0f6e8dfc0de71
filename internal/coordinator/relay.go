package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/protocol"
)

// relay applies the messages of one agent connection to the job's output.
// It returns once the agent has reported its final status or the
// connection ends.
func (c *Coordinator) relay(ctx context.Context, id fleet.JobID, stream io.ReadWriteCloser) {
	defer stream.Close()

	s := c.attach(id, stream)
	logger := c.logger.WithValues("job", id.String())
	reader := protocol.NewReader(stream, c.config.MaxMessageLength)
	state := &relayState{c: c, job: id}
	for {
		msg, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error(err, "reading agent message")
			}
			break
		}
		if msg == nil {
			continue
		}
		finished, err := state.apply(ctx, msg)
		if err != nil {
			logger.Error(err, "applying agent message", "message", msg)
			break
		}
		if finished {
			c.detach(id, s, true)
			return
		}
	}
	if c.isSuperseded(s) {
		logger.Info("agent connection superseded")
	} else {
		logger.Info("agent disconnected without final status")
	}
	if state.section != 0 {
		if err := c.output.FinishSection(ctx, id, state.section, false, c.now()); err != nil {
			logger.Error(err, "failing open section")
		}
	}
	c.detach(id, s, false)
}

type relayState struct {
	c   *Coordinator
	job fleet.JobID
	// section is the ID of the open section, or zero
	section int
}

func (r *relayState) apply(ctx context.Context, msg protocol.Message) (bool, error) {
	switch m := msg.(type) {
	case protocol.SectionStart:
		if r.section != 0 {
			if err := r.endSection(ctx, true); err != nil {
				return false, err
			}
		}
		id, err := r.c.output.CreateSection(ctx, r.job, m.SectionName, r.c.now())
		if err != nil {
			return false, fmt.Errorf("creating section: %w", err)
		}
		r.section = id
	case protocol.SectionEnd:
		if r.section == 0 {
			return false, nil
		}
		return false, r.endSection(ctx, m.WasSuccessful)
	case protocol.BuildOutput:
		if r.section == 0 {
			r.c.logger.V(5).Info("dropping output outside of a section", "job", r.job.String())
			return false, nil
		}
		if err := r.c.output.AppendOutput(ctx, r.job, r.section, m.Output); err != nil {
			return false, fmt.Errorf("appending output: %w", err)
		}
	case protocol.FinalStatus:
		if r.section != 0 {
			if err := r.endSection(ctx, m.WasSuccessful); err != nil {
				return false, err
			}
		}
		if err := r.c.finishJob(ctx, r.job, m.WasSuccessful); err != nil {
			return false, fmt.Errorf("finishing job: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (r *relayState) endSection(ctx context.Context, success bool) error {
	if err := r.c.output.FinishSection(ctx, r.job, r.section, success, r.c.now()); err != nil {
		return fmt.Errorf("finishing section: %w", err)
	}
	r.section = 0
	return nil
}
