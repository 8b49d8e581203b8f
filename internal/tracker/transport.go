package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Transport is the byte-stream connection to the tracker.
//
// Receive blocks until data arrives, the read deadline passes
// (ErrReceiveTimeout), or the stream ends. Send may be called from a
// different goroutine than Receive.
type Transport interface {
	Send(cmd string) error
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens a Transport for cfg.
type Dialer func(ctx context.Context, cfg Config) (Transport, error)

// DialTCP connects to cfg.Address. Failures are *ConnectionError.
func DialTCP(ctx context.Context, cfg Config) (Transport, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, &ConnectionError{Addr: cfg.Address, Err: err}
	}
	return NewConnTransport(conn, cfg), nil
}

// ConnTransport adapts a net.Conn. Commands are terminated with CRLF.
type ConnTransport struct {
	conn         net.Conn
	buf          []byte
	readTimeout  time.Duration
	writeTimeout time.Duration
	sendMu       sync.Mutex
	closed       atomic.Bool
}

func NewConnTransport(conn net.Conn, cfg Config) *ConnTransport {
	size := cfg.ReadBufferSize
	if size <= 0 {
		size = DefaultReadBufferSize
	}
	return &ConnTransport{
		conn:         conn,
		buf:          make([]byte, size),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

func (t *ConnTransport) Send(cmd string) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(t.conn, cmd+"\r\n"); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("tracker: write deadline exceeded: %w", err)
		}
		return t.classify(err)
	}
	return nil
}

// Receive returns a copy of the next chunk read from the connection.
func (t *ConnTransport) Receive() ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if t.readTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return nil, t.classify(err)
		}
	}
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, t.buf[:n])
		return out, nil
	}
	if err == nil {
		return nil, nil
	}
	return nil, t.classify(err)
}

// Close closes the connection once; later calls return nil.
func (t *ConnTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

func (t *ConnTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *ConnTransport) classify(err error) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrReceiveTimeout
	case errors.Is(err, net.ErrClosed) || t.closed.Load():
		return ErrTransportClosed
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrReceiveTimeout
		}
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
}
