package tracker

import (
	"errors"
	"fmt"
)

var (
	ErrConnect              = errors.New("tracker: connect failed")
	ErrConnectionLost       = errors.New("tracker: connection lost")
	ErrReceiveTimeout       = errors.New("tracker: receive timeout")
	ErrTransportClosed      = errors.New("tracker: transport closed")
	ErrWorkerAlreadyStarted = errors.New("tracker: worker already started")
	ErrWorkerStopped        = errors.New("tracker: worker stopped")
	ErrSessionActive        = errors.New("tracker: session already active")
	ErrNoSession            = errors.New("tracker: no active session")
	ErrOutputRequired       = errors.New("tracker: output prefix required")
	ErrAddressRequired      = errors.New("tracker: address required")
)

// ConnectionError reports a failed dial. The session does not start.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tracker: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnect, e.Err}
}

// MalformedMessageError reports one line that could not be interpreted.
// It is contained to that line; collection continues.
type MalformedMessageError struct {
	Line string
	Err  error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("tracker: malformed message %q: %v", e.Line, e.Err)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// SinkError reports a failed write or flush on an output sink. It ends the
// session.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("tracker: sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// CommandError reports a failed send of a device command.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("tracker: send %s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is contained to a single message.
func IsMalformed(err error) bool {
	var m *MalformedMessageError
	return errors.As(err, &m)
}
