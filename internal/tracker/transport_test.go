package tracker

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/gazectl/internal/testutil/testlog"
)

func TestConnTransportSendReceiveClose(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
		_, _ = conn.Write([]byte("<ACK ID=\"X\" />\r\n"))
		time.Sleep(100 * time.Millisecond)
	}()

	cfg := DefaultConfig()
	cfg.Address = ln.Addr().String()
	cfg.ReadTimeout = 20 * time.Millisecond
	tr, err := DialTCP(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := tr.Send(`<GET ID="X" />`); err != nil {
		t.Fatalf("send: %v", err)
	}
	if line := <-got; line != "<GET ID=\"X\" />\r\n" {
		t.Fatalf("server got %q", line)
	}

	var data []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(data) == 0 && time.Now().Before(deadline) {
		chunk, err := tr.Receive()
		if err != nil && !errors.Is(err, ErrReceiveTimeout) {
			t.Fatalf("receive: %v", err)
		}
		data = append(data, chunk...)
	}
	if string(data) != "<ACK ID=\"X\" />\r\n" {
		t.Fatalf("received %q", data)
	}

	if _, err := tr.Receive(); !errors.Is(err, ErrReceiveTimeout) {
		t.Fatalf("expected receive timeout, got %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := tr.Receive(); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
	if err := tr.Send("<GET ID=\"X\" />"); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed on send, got %v", err)
	}
}

func TestConnTransportPeerCloseIsConnectionLost(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	cfg := DefaultConfig()
	cfg.Address = ln.Addr().String()
	cfg.ReadTimeout = 20 * time.Millisecond
	tr, err := DialTCP(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := tr.Receive()
		if errors.Is(err, ErrReceiveTimeout) {
			continue
		}
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("expected ErrConnectionLost, got %v", err)
		}
		return
	}
	t.Fatalf("peer close never observed")
}

func TestDialTCPFailureIsConnectionError(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.ConnectTimeout = 500 * time.Millisecond
	_, err = DialTCP(context.Background(), cfg)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.Addr != addr {
		t.Fatalf("unexpected addr %q", connErr.Addr)
	}
}
