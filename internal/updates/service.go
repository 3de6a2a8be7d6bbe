// Package updates runs the update script at most once at a time and delivers
// its output to a single consumer over a bounded channel.
package updates

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/bambu-os/bambu-control/internal/runner"
)

// ErrInProgress is returned by Start while another run is active.
var ErrInProgress = errors.New("an update run is already in progress")

// ErrDetached reports that a run's events stopped before its final event, so
// its outcome is unknown to the consumer. The history still has it.
var ErrDetached = errors.New("update output detached before the run finished")

// Streamer runs the script and feeds each output line to sink.
type Streamer interface {
	StreamApply(ctx context.Context, scriptPath string, sink func(string)) (runner.Result, error)
}

// Recorder persists runs. history.Store satisfies it.
type Recorder interface {
	BeginRun(id string, startedAt time.Time) error
	AppendLine(runID string, seq int, text string) error
	FinishRun(id string, exitCode int, errText string, finishedAt time.Time) error
}

// Event is one message on a run's channel: either an output line, or the
// final event with Done set.
type Event struct {
	RunID    string
	Seq      int
	Line     string
	Done     bool
	ExitCode int
	Err      error
}

// Run is a started update run. Events yields every line in order, then one
// Done event, and is then closed.
type Run struct {
	ID        string
	StartedAt time.Time
	Events    <-chan Event
}

// Service owns the single update slot.
type Service struct {
	streamer Streamer
	recorder Recorder
	script   string
	buffer   int
	logger   *zerolog.Logger

	sem     *semaphore.Weighted
	running atomic.Bool
	now     func() time.Time
}

// NewService creates a Service. recorder may be nil to skip history.
// A buffer below 1 is raised to 1.
func NewService(streamer Streamer, recorder Recorder, scriptPath string, buffer int, logger *zerolog.Logger) *Service {
	if buffer < 1 {
		buffer = 1
	}
	return &Service{
		streamer: streamer,
		recorder: recorder,
		script:   scriptPath,
		buffer:   buffer,
		logger:   logger,
		sem:      semaphore.NewWeighted(1),
		now:      time.Now,
	}
}

// Running reports whether a run is active.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Start launches the update script on a new worker goroutine and returns
// immediately. It fails with ErrInProgress if a run is already active.
//
// Cancelling ctx detaches the consumer: remaining events are dropped, but the
// script keeps running to completion and is still recorded.
func (s *Service) Start(ctx context.Context) (*Run, error) {
	if !s.sem.TryAcquire(1) {
		return nil, ErrInProgress
	}
	s.running.Store(true)

	ch := make(chan Event, s.buffer)
	run := &Run{
		ID:        uuid.New().String(),
		StartedAt: s.now(),
		Events:    ch,
	}

	if s.recorder != nil {
		if err := s.recorder.BeginRun(run.ID, run.StartedAt); err != nil {
			s.logger.Error().Err(err).Str("run_id", run.ID).Msg("recording run start failed")
		}
	}
	s.logger.Info().Str("run_id", run.ID).Str("script", s.script).Msg("update run started")

	go s.work(ctx, run, ch)
	return run, nil
}

func (s *Service) work(ctx context.Context, run *Run, ch chan<- Event) {
	defer func() {
		s.running.Store(false)
		s.sem.Release(1)
		close(ch)
	}()

	emit := func(ev Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	seq := 0
	res, err := s.streamer.StreamApply(context.WithoutCancel(ctx), s.script, func(line string) {
		if s.recorder != nil {
			if rerr := s.recorder.AppendLine(run.ID, seq, line); rerr != nil {
				s.logger.Warn().Err(rerr).Str("run_id", run.ID).Int("seq", seq).Msg("recording line failed")
			}
		}
		emit(Event{RunID: run.ID, Seq: seq, Line: line})
		seq++
	})

	errText := ""
	if err != nil {
		err = pkgerrors.Wrapf(err, "update run %s", run.ID)
		errText = err.Error()
		s.logger.Error().Stack().Err(err).Str("run_id", run.ID).Msg("update run failed")
	}
	if s.recorder != nil {
		if rerr := s.recorder.FinishRun(run.ID, res.ExitCode, errText, s.now()); rerr != nil {
			s.logger.Error().Err(rerr).Str("run_id", run.ID).Msg("recording run finish failed")
		}
	}
	s.logger.Info().Str("run_id", run.ID).Int("exit_code", res.ExitCode).Int("lines", seq).Msg("update run finished")

	emit(Event{RunID: run.ID, Seq: seq, Done: true, ExitCode: res.ExitCode, Err: err})
}

// Drain consumes a run to completion, passing each line to onLine, and
// returns the final event. finished is false when the channel closed without
// one, which happens once the consumer's context is cancelled; the zero Event
// returned then says nothing about how the script exited.
func Drain(run *Run, onLine func(Event)) (final Event, finished bool) {
	for ev := range run.Events {
		if ev.Done {
			final, finished = ev, true
			continue
		}
		if onLine != nil {
			onLine(ev)
		}
	}
	return final, finished
}
