package devicesim

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/testutil/testlog"
)

func dialSim(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func readMessage(t *testing.T, conn net.Conn, r *bufio.Reader) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasSuffix(line, "\r\n") {
		t.Fatalf("expected CRLF terminated line, got %q", line)
	}
	msg, err := protocol.Parse(line)
	if err != nil {
		t.Fatalf("parse %q: %v", line, err)
	}
	return msg
}

func send(t *testing.T, conn net.Conn, cmd string) {
	t.Helper()
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestServerAcksAndStreams(t *testing.T) {
	testlog.Start(t)

	s, err := Start(Config{RecordInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	conn, r := dialSim(t, s)
	cmd, _ := protocol.Set(protocol.IDEnableSendData, true)
	send(t, conn, cmd)

	ack := readMessage(t, conn, r)
	if ack.Tag != protocol.TagAck {
		t.Fatalf("expected ACK, got %s", ack.Tag)
	}
	if id, _ := ack.Get(protocol.AttrID); id != protocol.IDEnableSendData {
		t.Fatalf("unexpected ack id %q", id)
	}

	for i := 1; i <= 3; i++ {
		rec := readMessage(t, conn, r)
		if rec.Tag != protocol.TagRec {
			t.Fatalf("expected REC, got %s", rec.Tag)
		}
		if cnt, _ := rec.Get("CNT"); cnt != strconv.Itoa(i) {
			t.Fatalf("record %d has CNT=%q", i, cnt)
		}
	}

	got := s.Commands()
	if len(got) != 1 || got[0] != cmd {
		t.Fatalf("commands got=%v", got)
	}
}

func TestServerCalibrates(t *testing.T) {
	testlog.Start(t)

	s, err := Start(Config{CalibrationDelay: time.Millisecond, AverageError: "0.25"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	conn, r := dialSim(t, s)
	for _, cmd := range protocol.CalibrationStartCommands() {
		send(t, conn, cmd)
	}

	var result protocol.Message
	for i := 0; i < 8; i++ {
		msg := readMessage(t, conn, r)
		if protocol.IsCalibrationResult(msg) {
			result = msg
			break
		}
	}
	if result.Tag != protocol.TagCal {
		t.Fatalf("no calibration result received")
	}
	if v, _ := result.Get("AVE_ERROR"); v != "0.25" {
		t.Fatalf("unexpected AVE_ERROR %q", v)
	}
}

func TestServerFragmentsWrites(t *testing.T) {
	testlog.Start(t)

	s, err := Start(Config{Fragment: true, Seed: 42})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	conn, r := dialSim(t, s)
	cmd, _ := protocol.Get(protocol.IDEnableSendData)
	send(t, conn, cmd)
	msg := readMessage(t, conn, r)
	if msg.Tag != protocol.TagAck {
		t.Fatalf("expected ACK, got %s", msg.Tag)
	}
}

func TestServerDropConnections(t *testing.T) {
	testlog.Start(t)

	s, err := Start(Config{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	conn, r := dialSim(t, s)
	cmd, _ := protocol.Get("X")
	send(t, conn, cmd)
	_ = readMessage(t, conn, r)

	s.DropConnections()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r.ReadString('\n'); err == nil {
		t.Fatalf("expected read error after drop")
	}
	if n := s.Connections(); n != 0 {
		t.Fatalf("expected no connections, got %d", n)
	}
}

func TestServerCloseWaitsForCalibration(t *testing.T) {
	testlog.Start(t)

	s, err := Start(Config{CalibrationDelay: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	conn, r := dialSim(t, s)
	cmd, _ := protocol.Set(protocol.IDCalibrateStart, true)
	send(t, conn, cmd)
	if ack := readMessage(t, conn, r); ack.Tag != protocol.TagAck {
		t.Fatalf("expected ACK, got %s", ack.Tag)
	}

	deadline := time.Now().Add(time.Second)
	for s.calibrating.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("calibration never started")
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := s.calibrating.Load(); got != 0 {
		t.Fatalf("calibrations still running after Close: got=%d want=0", got)
	}
}
