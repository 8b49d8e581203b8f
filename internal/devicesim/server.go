// Package devicesim is a TCP stand-in for an Open Gaze API tracker. It acks
// SET commands, streams REC lines once ENABLE_SEND_DATA is on and answers
// CALIBRATE_START with a calibration result.
package devicesim

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/rs/zerolog"
)

const lineEnd = "\r\n"

// Config controls the simulated device.
type Config struct {
	Addr             string
	RecordInterval   time.Duration
	CalibrationDelay time.Duration
	AverageError     string
	// Fragment splits every write at a random offset.
	Fragment bool
	Seed     int64
	Logger   zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Addr:             "127.0.0.1:0",
		RecordInterval:   10 * time.Millisecond,
		CalibrationDelay: 20 * time.Millisecond,
		AverageError:     "0.5",
		Seed:             1,
		Logger:           zerolog.Nop(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.RecordInterval <= 0 {
		c.RecordInterval = def.RecordInterval
	}
	if c.CalibrationDelay <= 0 {
		c.CalibrationDelay = def.CalibrationDelay
	}
	if c.AverageError == "" {
		c.AverageError = def.AverageError
	}
	return c
}

// Server accepts any number of clients; each gets independent device state.
type Server struct {
	cfg    Config
	ln     net.Listener
	logger zerolog.Logger

	mu       sync.Mutex
	conns    map[*deviceConn]struct{}
	commands []string
	closed   bool
	wg       sync.WaitGroup

	calibrating atomic.Int32
}

// Start listens on cfg.Addr and serves in the background.
func Start(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("devicesim: listen %s: %w", cfg.Addr, err)
	}
	s := &Server{
		cfg:    cfg,
		ln:     ln,
		logger: cfg.Logger,
		conns:  make(map[*deviceConn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("devicesim_listening")
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Commands returns every command line received, across connections.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Connections reports the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every client connection without stopping the
// listener.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*deviceConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// Close stops the listener, drops clients and waits for handlers to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	var seq int64
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("devicesim_accept_failed")
			continue
		}
		seq++
		dc := newDeviceConn(s, conn, s.cfg.Seed+seq)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[dc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(2)
		go dc.readLoop()
		go dc.streamLoop()
	}
}

func (s *Server) record(cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
}

func (s *Server) forget(dc *deviceConn) {
	s.mu.Lock()
	delete(s.conns, dc)
	s.mu.Unlock()
}

type deviceConn struct {
	srv    *Server
	conn   net.Conn
	logger zerolog.Logger

	writeMu   sync.Mutex
	rng       *rand.Rand
	mu        sync.Mutex
	streaming bool
	counter   int
	started   time.Time
	quit      chan struct{}
	closeOnce sync.Once
}

func newDeviceConn(s *Server, conn net.Conn, seed int64) *deviceConn {
	return &deviceConn{
		srv:     s,
		conn:    conn,
		logger:  s.logger.With().Str("peer", conn.RemoteAddr().String()).Logger(),
		rng:     rand.New(rand.NewSource(seed)),
		started: time.Now(),
		quit:    make(chan struct{}),
	}
}

func (d *deviceConn) close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		_ = d.conn.Close()
		d.srv.forget(d)
	})
}

func (d *deviceConn) readLoop() {
	defer d.srv.wg.Done()
	defer d.close()

	scanner := bufio.NewScanner(d.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		d.srv.record(line)
		if err := d.handle(line); err != nil {
			d.logger.Debug().Err(err).Msg("devicesim_write_failed")
			return
		}
	}
}

func (d *deviceConn) handle(line string) error {
	msg, err := protocol.Parse(line)
	if err != nil {
		d.logger.Warn().Err(err).Str("line", line).Msg("devicesim_bad_command")
		return d.write(protocol.Message{Tag: protocol.TagNack}.String())
	}
	id, _ := msg.Get(protocol.AttrID)
	state, _ := msg.Get(protocol.AttrState)

	switch msg.Tag {
	case protocol.TagSet:
		// Ack before applying so the ack precedes any data it enables.
		if err := d.write(protocol.Message{Tag: protocol.TagAck, Attrs: msg.Attrs}.String()); err != nil {
			return err
		}
		switch id {
		case protocol.IDEnableSendData:
			d.mu.Lock()
			d.streaming = state == "1"
			d.mu.Unlock()
		case protocol.IDCalibrateStart:
			if state == "1" {
				d.srv.wg.Add(1)
				d.srv.calibrating.Add(1)
				go d.calibrate()
			}
		}
		return nil
	case protocol.TagGet:
		return d.write(protocol.Message{Tag: protocol.TagAck, Attrs: []protocol.Attr{
			{Name: protocol.AttrID, Value: id},
			{Name: protocol.AttrState, Value: "1"},
		}}.String())
	default:
		return d.write(protocol.Message{Tag: protocol.TagNack, Attrs: msg.Attrs}.String())
	}
}

func (d *deviceConn) calibrate() {
	defer d.srv.wg.Done()
	defer d.srv.calibrating.Add(-1)
	select {
	case <-d.quit:
		return
	case <-time.After(d.srv.cfg.CalibrationDelay):
	}
	lines := []string{
		`<CAL ID="CALIB_START_PT" PT="1" CALX="0.50000" CALY="0.50000" />`,
		`<CAL ID="CALIB_RESULT_PT" PT="1" CALX="0.50000" CALY="0.50000" />`,
		fmt.Sprintf(`<CAL ID="CALIB_RESULT" AVE_ERROR="%s" VALID_POINTS="5" />`, d.srv.cfg.AverageError),
	}
	for _, l := range lines {
		if err := d.write(l); err != nil {
			return
		}
	}
}

func (d *deviceConn) streamLoop() {
	defer d.srv.wg.Done()
	ticker := time.NewTicker(d.srv.cfg.RecordInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
		}
		d.mu.Lock()
		on := d.streaming
		if on {
			d.counter++
		}
		cnt := d.counter
		d.mu.Unlock()
		if !on {
			continue
		}
		if err := d.write(d.record(cnt)); err != nil {
			return
		}
	}
}

func (d *deviceConn) record(cnt int) string {
	d.writeMu.Lock()
	x, y := d.rng.Float64(), d.rng.Float64()
	d.writeMu.Unlock()
	return fmt.Sprintf(`<REC CNT="%d" TIME="%.5f" FPOGX="%.5f" FPOGY="%.5f" FPOGV="1" />`,
		cnt, time.Since(d.started).Seconds(), x, y)
}

// write sends one line. With Fragment set the bytes go out in two writes
// split at a random offset.
func (d *deviceConn) write(line string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	data := []byte(line + lineEnd)
	if !d.srv.cfg.Fragment || len(data) < 2 {
		_, err := d.conn.Write(data)
		return err
	}
	cut := 1 + d.rng.Intn(len(data)-1)
	if _, err := d.conn.Write(data[:cut]); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	_, err := d.conn.Write(data[cut:])
	return err
}
