package tracker

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/gazectl/internal/protocol/frame"
	"github.com/danmuck/gazectl/internal/sink"
	"github.com/danmuck/gazectl/internal/testutil/testlog"
)

// scriptedTransport hands out queued chunks and reports ErrReceiveTimeout
// when the queue is empty.
type scriptedTransport struct {
	mu       sync.Mutex
	chunks   [][]byte
	failWith error
	sent     []string
	receives int
	closed   bool
}

func (s *scriptedTransport) push(chunks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks = append(s.chunks, []byte(c))
	}
}

func (s *scriptedTransport) fail(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *scriptedTransport) Receive() ([]byte, error) {
	s.mu.Lock()
	s.receives++
	if s.closed {
		s.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return c, nil
	}
	if s.failWith != nil {
		err := s.failWith
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
	return nil, ErrReceiveTimeout
}

func (s *scriptedTransport) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrTransportClosed
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedTransport) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *scriptedTransport) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func newTestWorker(src *scriptedTransport) (*Worker, *sink.Memory, *sink.Memory, *sink.Memory) {
	set, raw, cal, rec := sink.NewMemorySet()
	c := &counters{}
	in := NewInterpreter(set, src, withCounters(c))
	w := NewWorker(src, frame.NewReassembler(), in, withWorkerCounters(c))
	return w, raw, cal, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stopAndWait(t *testing.T, w *Worker) {
	t.Helper()
	w.RequestStop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestWorkerProcessesFragmentedStream(t *testing.T) {
	testlog.Start(t)

	src := &scriptedTransport{}
	src.push(
		"<SET ID=\"X\" STA",
		"TE=\"1\" />\r\n<CAL ID=\"CALIB_",
		"RESULT\" AVE_ERROR=\"0.5\" />\r\n<REC FPOGX=\"0.4\" FPOGY=\"0.6\" />\r",
		"\n",
	)
	w, raw, cal, rec := newTestWorker(src)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "records", func() bool { return src.queued() == 0 && len(rec.Flushed()) == 2 })
	stopAndWait(t, w)

	if got := raw.Flushed(); len(got) != 3 {
		t.Fatalf("raw got=%v", got)
	}
	if got, want := cal.Flushed(), []string{"ID,AVE_ERROR,", "CALIB_RESULT,0.5,"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("calibration got=%v want=%v", got, want)
	}
	if got, want := rec.Flushed(), []string{"FPOGX,FPOGY,", "0.4,0.6,"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("records got=%v want=%v", got, want)
	}
	st := w.Stats()
	if st.Chunks != 4 || st.Messages != 3 || st.RecordsWritten != 1 || st.PendingTailBytes != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if w.State() != WorkerStopped {
		t.Fatalf("expected stopped, got %s", w.State())
	}
}

func TestWorkerStartTwice(t *testing.T) {
	testlog.Start(t)

	w, _, _, _ := newTestWorker(&scriptedTransport{})
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Start(); !errors.Is(err, ErrWorkerAlreadyStarted) {
		t.Fatalf("expected ErrWorkerAlreadyStarted, got %v", err)
	}
	stopAndWait(t, w)
	if err := w.Start(); !errors.Is(err, ErrWorkerStopped) {
		t.Fatalf("expected ErrWorkerStopped, got %v", err)
	}
}

func TestWorkerStopBeforeStart(t *testing.T) {
	testlog.Start(t)

	src := &scriptedTransport{}
	w, _, _, _ := newTestWorker(src)
	w.RequestStop()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatalf("done not closed for idle worker")
	}
	if w.State() != WorkerStopped {
		t.Fatalf("expected stopped, got %s", w.State())
	}
	if err := w.Start(); !errors.Is(err, ErrWorkerStopped) {
		t.Fatalf("expected ErrWorkerStopped, got %v", err)
	}
	if src.receives != 0 {
		t.Fatalf("idle worker should never receive")
	}
}

func TestWorkerExitsWhenStoppingWithFlagStillSet(t *testing.T) {
	testlog.Start(t)

	src := &scriptedTransport{}
	w, _, _, _ := newTestWorker(src)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	// RequestStop's flag store lost to Start: only the state transition lands.
	if !w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopping)) {
		t.Fatalf("expected running worker, got %s", w.State())
	}
	if !w.running.Load() {
		t.Fatalf("flag should still be set")
	}
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatalf("worker kept running in stopping state")
	}
	if w.Err() != nil || w.State() != WorkerStopped {
		t.Fatalf("got err=%v state=%s want clean stop", w.Err(), w.State())
	}
}

func TestWorkerStartRacingStop(t *testing.T) {
	testlog.Start(t)

	for i := 0; i < 200; i++ {
		w, _, _, _ := newTestWorker(&scriptedTransport{})
		go w.RequestStop()
		_ = w.Start()
		select {
		case <-w.Done():
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: stop lost, state=%s", i, w.State())
		}
	}
}

func TestWorkerConcurrentStopRequests(t *testing.T) {
	testlog.Start(t)

	w, _, _, _ := newTestWorker(&scriptedTransport{})
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.RequestStop()
		}()
	}
	wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if w.State() != WorkerStopped {
		t.Fatalf("expected stopped, got %s", w.State())
	}
}

func TestWorkerStreamEndAfterStopIsClean(t *testing.T) {
	testlog.Start(t)

	src := &scriptedTransport{}
	w, _, _, _ := newTestWorker(src)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.RequestStop()
	_ = src.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Wait(ctx); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}

func TestWorkerConnectionLostIsFatal(t *testing.T) {
	testlog.Start(t)

	src := &scriptedTransport{}
	src.fail(ErrConnectionLost)
	var hookErr error
	hookDone := make(chan struct{})
	set, _, _, _ := sink.NewMemorySet()
	w := NewWorker(src, frame.NewReassembler(), NewInterpreter(set, src), WithExitHook(func(err error) {
		hookErr = err
		close(hookDone)
	}))
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-hookDone
	<-w.Done()
	if !errors.Is(hookErr, ErrConnectionLost) || !errors.Is(w.Err(), ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, hook=%v err=%v", hookErr, w.Err())
	}
}

func TestWorkerSinkFailureEndsLoop(t *testing.T) {
	testlog.Start(t)

	src := &scriptedTransport{}
	w, raw, _, _ := newTestWorker(src)
	_ = raw.Close()
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	src.push("<ACK ID=\"X\" />\n")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := w.Wait(ctx)
	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) || sinkErr.Sink != SinkRaw {
		t.Fatalf("expected raw SinkError, got %v", err)
	}
}

func TestWorkerContainsMalformedAndUnterminated(t *testing.T) {
	testlog.Start(t)

	src := &scriptedTransport{}
	src.push(
		"<CAL ID=\"CALIB_RESULT\" />\n",
		"<REC A=\"1\" />\n<REC A=\"2\" B=>\n<REC A=\"x\"\n<REC A=\"3\" />\n",
	)
	w, _, _, rec := newTestWorker(src)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "queue drained", func() bool { return src.queued() == 0 && len(rec.Flushed()) == 3 })
	stopAndWait(t, w)

	if got, want := rec.Flushed(), []string{"A,", "1,", "3,"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("records got=%v want=%v", got, want)
	}
	if st := w.Stats(); st.Malformed != 2 {
		t.Fatalf("expected 2 malformed, got %+v", st)
	}
}

func TestWorkerHoldsTailAcrossReads(t *testing.T) {
	testlog.Start(t)

	src := &scriptedTransport{}
	src.push("<ACK ID=\"X\" />\n<ACK ID")
	w, raw, _, _ := newTestWorker(src)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "tail pending", func() bool { return w.Stats().PendingTailBytes == len("<ACK ID") })

	src.push("=\"Y\" />\n")
	waitFor(t, "tail joined", func() bool { return len(raw.Flushed()) == 2 })
	stopAndWait(t, w)

	if got, want := raw.Flushed(), []string{`<ACK ID="X" />`, `<ACK ID="Y" />`}; !reflect.DeepEqual(got, want) {
		t.Fatalf("raw got=%v want=%v", got, want)
	}
	if st := w.Stats(); st.PendingTailBytes != 0 {
		t.Fatalf("tail should be consumed, got %+v", st)
	}
}
