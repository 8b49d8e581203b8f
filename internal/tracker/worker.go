package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/danmuck/gazectl/internal/observability"
	"github.com/danmuck/gazectl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// WorkerState is the lifecycle position of a Worker.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerStopping
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Receiver is the read half of a Transport.
type Receiver interface {
	Receive() ([]byte, error)
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

func WithWorkerLogger(logger zerolog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithExitHook runs fn on the worker goroutine after the loop ends, with the
// error that ended it (nil for a requested stop).
func WithExitHook(fn func(error)) WorkerOption {
	return func(w *Worker) {
		w.onExit = fn
	}
}

func withWorkerCounters(c *counters) WorkerOption {
	return func(w *Worker) {
		w.counters = c
	}
}

// Worker runs receive -> reassemble -> interpret on one background goroutine.
//
// Idle -> Running -> Stopping -> Stopped. A stopped worker is not restarted;
// build a new one.
type Worker struct {
	src      Receiver
	frames   *frame.Reassembler
	interp   *Interpreter
	logger   zerolog.Logger
	counters *counters
	onExit   func(error)

	state   atomic.Int32
	running atomic.Bool
	done    chan struct{}
	once    sync.Once

	errMu sync.Mutex
	err   error
}

func NewWorker(src Receiver, frames *frame.Reassembler, interp *Interpreter, opts ...WorkerOption) *Worker {
	w := &Worker{
		src:      src,
		frames:   frames,
		interp:   interp,
		logger:   zerolog.Nop(),
		counters: &counters{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the loop. It fails if the worker was ever started.
func (w *Worker) Start() error {
	if !w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerRunning)) {
		if w.State() == WorkerRunning {
			return ErrWorkerAlreadyStarted
		}
		return ErrWorkerStopped
	}
	w.running.Store(true)
	w.logger.Debug().Msg("worker_started")
	go w.loop()
	return nil
}

// RequestStop asks the loop to exit after its current iteration. It does not
// interrupt a receive in flight and never blocks. Safe from any goroutine.
func (w *Worker) RequestStop() {
	w.running.Store(false)
	if w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerStopped)) {
		w.finish(nil)
		return
	}
	w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopping))
}

// Done is closed once the loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the loop exits or ctx ends.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error that ended the loop, if any.
func (w *Worker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) Stats() Stats {
	return w.counters.snapshot()
}

func (w *Worker) loop() {
	var exitErr error
	for {
		if err := w.step(); err != nil {
			if w.stopRequested() && isStreamEnd(err) {
				break
			}
			exitErr = err
			break
		}
		if w.stopRequested() {
			break
		}
	}
	w.running.Store(false)
	w.state.Store(int32(WorkerStopped))

	if exitErr != nil {
		w.logger.Error().Err(exitErr).Msg("worker_failed")
	} else {
		w.logger.Debug().Msg("worker_stopped")
	}
	if w.onExit != nil {
		w.onExit(exitErr)
	}
	w.finish(exitErr)
}

// stopRequested also checks the state, since a RequestStop racing Start can
// land its flag store before Start sets the flag.
func (w *Worker) stopRequested() bool {
	return !w.running.Load() || w.State() == WorkerStopping
}

func (w *Worker) finish(err error) {
	w.once.Do(func() {
		w.errMu.Lock()
		w.err = err
		w.errMu.Unlock()
		close(w.done)
	})
}

// step runs one receive and everything it completes.
func (w *Worker) step() error {
	chunk, err := w.src.Receive()
	if err != nil {
		if errors.Is(err, ErrReceiveTimeout) {
			w.counters.receiveTimeouts.Add(1)
			observability.RecordReceiveTimeout()
			return nil
		}
		return err
	}
	if len(chunk) == 0 {
		return nil
	}
	w.counters.chunks.Add(1)
	w.counters.bytes.Add(uint64(len(chunk)))
	observability.RecordChunk(len(chunk))

	res := w.frames.Ingest(chunk)
	tail, hasTail := w.frames.Pending()
	w.logger.Debug().
		Int("bytes", len(chunk)).
		Int("messages", len(res.Messages)).
		Int("rejected", len(res.Rejected)).
		Bool("tail", hasTail).
		Msg("buffered")

	for _, fragment := range res.Rejected {
		w.malformed(&MalformedMessageError{Line: fragment, Err: frame.ErrUnterminated})
	}
	for _, line := range res.Messages {
		if err := w.interp.Interpret(line); err != nil {
			if IsMalformed(err) {
				w.malformed(err)
				continue
			}
			return err
		}
	}
	if len(res.Messages) > 0 {
		if err := w.interp.FlushRaw(); err != nil {
			return err
		}
	}

	w.counters.pendingTail.Store(int64(len(tail)))
	observability.SetPendingTail(len(tail))
	return nil
}

func (w *Worker) malformed(err error) {
	w.counters.malformed.Add(1)
	observability.RecordMalformed()
	w.logger.Warn().Err(err).Msg("message_malformed")
}

func isStreamEnd(err error) bool {
	return errors.Is(err, ErrTransportClosed) || errors.Is(err, ErrConnectionLost)
}
