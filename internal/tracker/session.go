package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/protocol/frame"
	"github.com/danmuck/gazectl/internal/sink"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session is one connect -> collect -> disconnect lifecycle. It owns the
// transport, the sinks, the interpreter state and the worker.
type Session struct {
	id        string
	prefix    string
	cfg       Config
	transport Transport
	sinks     sink.Set
	frames    *frame.Reassembler
	interp    *Interpreter
	worker    *Worker
	counters  *counters
	logger    zerolog.Logger
	startedAt time.Time
	lastCal   atomic.Pointer[protocol.Message]

	stopOnce sync.Once
	stopped  chan struct{}
	stopErr  error
}

func newSession(prefix string, cfg Config, transport Transport, sinks sink.Set, logger zerolog.Logger, onExit func(*Session, error)) *Session {
	id := uuid.NewString()
	s := &Session{
		id:        id,
		prefix:    prefix,
		cfg:       cfg,
		transport: transport,
		sinks:     sinks,
		frames:    frame.NewReassembler(frame.WithMaxTail(cfg.MaxTailBytes)),
		counters:  &counters{},
		logger:    logger.With().Str("session", id).Str("output", prefix).Logger(),
		stopped:   make(chan struct{}),
	}
	s.interp = NewInterpreter(sinks, transport,
		WithInterpreterLogger(s.logger),
		WithObserver(s.observe),
		withCounters(s.counters),
	)
	s.worker = NewWorker(transport, s.frames, s.interp,
		WithWorkerLogger(s.logger),
		withWorkerCounters(s.counters),
		WithExitHook(func(err error) {
			if onExit != nil {
				onExit(s, err)
			}
		}),
	)
	return s
}

// start enables the data streams, starts the worker, then starts calibration.
func (s *Session) start() error {
	cmds, err := protocol.EnableCommands(s.cfg.EnableIDs)
	if err != nil {
		return err
	}
	if err := s.sendAll(cmds); err != nil {
		return err
	}
	if err := s.worker.Start(); err != nil {
		return err
	}
	s.startedAt = time.Now()
	s.logger.Info().Int("streams", len(cmds)).Msg("session_started")

	if s.cfg.SkipCalibration {
		return nil
	}
	if err := s.sendAll(protocol.CalibrationStartCommands()); err != nil {
		return err
	}
	s.logger.Info().Msg("calibration_started")
	return nil
}

func (s *Session) sendAll(cmds []string) error {
	for _, cmd := range cmds {
		if err := s.transport.Send(cmd); err != nil {
			return &CommandError{Command: cmd, Err: err}
		}
	}
	return nil
}

func (s *Session) observe(msg protocol.Message) {
	if protocol.IsCalibrationResult(msg) {
		m := msg
		s.lastCal.Store(&m)
	}
}

// Stop requests the worker to stop, waits for it to exit, then closes the
// connection and the sinks. If ctx ends first the connection is closed to
// unblock a pending receive. Concurrent and repeated calls share one result.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.teardown(ctx)
		close(s.stopped)
	})
	<-s.stopped
	return s.stopErr
}

func (s *Session) teardown(ctx context.Context) error {
	s.worker.RequestStop()

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.StopTimeout)
		defer cancel()
	}
	if err := s.worker.Wait(waitCtx); err != nil && errors.Is(err, waitCtx.Err()) {
		s.logger.Warn().Err(err).Msg("worker_stop_forced")
		_ = s.transport.Close()
		<-s.worker.Done()
	}

	closeErr := s.transport.Close()
	if tail, ok := s.frames.Discard(); ok {
		s.logger.Warn().Int("bytes", len(tail)).Str("tail", tail).Msg("pending_tail_discarded")
	}
	s.counters.pendingTail.Store(0)
	sinkErr := s.sinks.Close()
	s.interp.Reset()

	st := s.counters.snapshot()
	s.logger.Info().
		Uint64("messages", st.Messages).
		Uint64("records", st.RecordsWritten).
		Uint64("discarded", st.RecordsDiscarded).
		Uint64("malformed", st.Malformed).
		Dur("elapsed", time.Since(s.startedAt)).
		Msg("session_stopped")

	return errors.Join(s.worker.Err(), closeErr, sinkErr)
}

// Done is closed when the session has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

// Err returns the stop result once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.stopped:
		return s.stopErr
	default:
		return nil
	}
}

// ID is a random identifier used to correlate logs and status.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) Prefix() string {
	return s.prefix
}

func (s *Session) Calibrated() bool {
	return s.interp.Calibrated()
}

func (s *Session) Stats() Stats {
	return s.counters.snapshot()
}

func (s *Session) WorkerState() WorkerState {
	return s.worker.State()
}

// Send writes one command to the device.
func (s *Session) Send(cmd string) error {
	if err := s.transport.Send(cmd); err != nil {
		return &CommandError{Command: cmd, Err: err}
	}
	return nil
}

// LastCalibration returns the most recent calibration result, if any.
func (s *Session) LastCalibration() (protocol.Message, bool) {
	m := s.lastCal.Load()
	if m == nil {
		return protocol.Message{}, false
	}
	return *m, true
}
