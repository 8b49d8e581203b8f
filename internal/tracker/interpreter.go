package tracker

import (
	"sync/atomic"

	"github.com/danmuck/gazectl/internal/observability"
	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/sink"
	"github.com/rs/zerolog"
)

// Sink names used in errors, logs and metrics.
const (
	SinkRaw         = "raw"
	SinkCalibration = "calibration"
	SinkRecords     = "records"
)

// Commander sends one command line to the device.
type Commander interface {
	Send(cmd string) error
}

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*Interpreter)

func WithInterpreterLogger(logger zerolog.Logger) InterpreterOption {
	return func(in *Interpreter) {
		in.logger = logger
	}
}

// WithObserver registers fn to see every parsed message, after routing.
func WithObserver(fn func(protocol.Message)) InterpreterOption {
	return func(in *Interpreter) {
		in.observer = fn
	}
}

func withCounters(c *counters) InterpreterOption {
	return func(in *Interpreter) {
		in.counters = c
	}
}

// Interpreter routes protocol lines to the session sinks and tracks
// calibration. Interpret must be called from one goroutine; Calibrated may
// be read from any.
//
// States: uncalibrated -> calibrated, once, on the first CALIB_RESULT.
type Interpreter struct {
	sinks        sink.Set
	cmd          Commander
	logger       zerolog.Logger
	observer     func(protocol.Message)
	counters     *counters
	calibrated   atomic.Bool
	keysReceived bool
}

func NewInterpreter(sinks sink.Set, cmd Commander, opts ...InterpreterOption) *Interpreter {
	in := &Interpreter{
		sinks:    sinks,
		cmd:      cmd,
		logger:   zerolog.Nop(),
		counters: &counters{},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Calibrated reports whether a calibration result has been seen.
func (in *Interpreter) Calibrated() bool {
	return in.calibrated.Load()
}

// Reset returns the interpreter to the uncalibrated, no-header state.
func (in *Interpreter) Reset() {
	in.calibrated.Store(false)
	in.keysReceived = false
}

func (in *Interpreter) Stats() Stats {
	return in.counters.snapshot()
}

// Interpret handles one complete line. A *MalformedMessageError is contained
// to the line; any other error is fatal to the session.
func (in *Interpreter) Interpret(line string) error {
	if err := in.sinks.Raw.WriteLine(line); err != nil {
		return &SinkError{Sink: SinkRaw, Err: err}
	}
	in.counters.rawLines.Add(1)

	msg, err := protocol.Parse(line)
	if err != nil {
		return &MalformedMessageError{Line: line, Err: err}
	}
	in.counters.messages.Add(1)
	observability.RecordMessage(msg.Tag)
	in.logger.Trace().Str("tag", msg.Tag).Int("attrs", len(msg.Attrs)).Bool("calibrated", in.Calibrated()).Msg("message")

	if protocol.IsCalibrationResult(msg) && !in.calibrated.Load() {
		cmd := protocol.HideCalibrationCommand()
		if in.cmd != nil {
			if err := in.cmd.Send(cmd); err != nil {
				return &CommandError{Command: cmd, Err: err}
			}
		}
		in.calibrated.Store(true)
		observability.RecordCalibration()
		in.logger.Info().Strs("keys", msg.Keys()).Strs("values", msg.Values()).Msg("calibrated")
	}

	if protocol.IsCalibrationRow(msg) {
		if err := in.writeRows(in.sinks.Calibration, SinkCalibration, msg.Keys(), msg.Values()); err != nil {
			return err
		}
		in.counters.calibrationRows.Add(1)
	}

	if protocol.IsRecord(msg) {
		if !in.calibrated.Load() {
			in.counters.recordsDiscarded.Add(1)
			observability.RecordDiscarded()
		} else {
			var header []string
			if !in.keysReceived {
				header = msg.Keys()
			}
			if err := in.writeRows(in.sinks.Records, SinkRecords, header, msg.Values()); err != nil {
				return err
			}
			in.keysReceived = true
			in.counters.recordsWritten.Add(1)
		}
	}

	if in.observer != nil {
		in.observer(msg)
	}
	return nil
}

// FlushRaw pushes buffered raw lines out. The worker calls it once per read.
func (in *Interpreter) FlushRaw() error {
	if err := in.sinks.Raw.Flush(); err != nil {
		return &SinkError{Sink: SinkRaw, Err: err}
	}
	return nil
}

// writeRows writes an optional header row, the values row, then flushes.
func (in *Interpreter) writeRows(s sink.Sink, name string, header, values []string) error {
	if header != nil {
		if err := s.WriteLine(sink.FormatRow(header)); err != nil {
			return &SinkError{Sink: name, Err: err}
		}
	}
	if err := s.WriteLine(sink.FormatRow(values)); err != nil {
		return &SinkError{Sink: name, Err: err}
	}
	if err := s.Flush(); err != nil {
		return &SinkError{Sink: name, Err: err}
	}
	observability.RecordRow(name)
	return nil
}
