package tracker

import "sync/atomic"

// Stats is a point-in-time view of one session's counters.
type Stats struct {
	Chunks           uint64 `json:"chunks"`
	Bytes            uint64 `json:"bytes"`
	ReceiveTimeouts  uint64 `json:"receive_timeouts"`
	RawLines         uint64 `json:"raw_lines"`
	Messages         uint64 `json:"messages"`
	Malformed        uint64 `json:"malformed"`
	CalibrationRows  uint64 `json:"calibration_rows"`
	RecordsWritten   uint64 `json:"records_written"`
	RecordsDiscarded uint64 `json:"records_discarded"`
	PendingTailBytes int    `json:"pending_tail_bytes"`
}

// counters are written by the worker goroutine and read by status callers.
type counters struct {
	chunks           atomic.Uint64
	bytes            atomic.Uint64
	receiveTimeouts  atomic.Uint64
	rawLines         atomic.Uint64
	messages         atomic.Uint64
	malformed        atomic.Uint64
	calibrationRows  atomic.Uint64
	recordsWritten   atomic.Uint64
	recordsDiscarded atomic.Uint64
	pendingTail      atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Chunks:           c.chunks.Load(),
		Bytes:            c.bytes.Load(),
		ReceiveTimeouts:  c.receiveTimeouts.Load(),
		RawLines:         c.rawLines.Load(),
		Messages:         c.messages.Load(),
		Malformed:        c.malformed.Load(),
		CalibrationRows:  c.calibrationRows.Load(),
		RecordsWritten:   c.recordsWritten.Load(),
		RecordsDiscarded: c.recordsDiscarded.Load(),
		PendingTailBytes: int(c.pendingTail.Load()),
	}
}
