// Package frame turns an arbitrary byte stream into complete protocol lines.
//
// The transport delivers bytes with no message boundaries. A Reassembler
// splits each chunk on '\n', joins the unterminated remainder of one chunk
// onto the first fragment of the next, and emits every fragment that ends
// with the protocol terminator.
package frame

import (
	"errors"
	"strings"

	"github.com/danmuck/gazectl/internal/protocol"
)

const separator = "\n"

// ErrUnterminated marks a fragment that reached a line separator without the
// protocol terminator.
var ErrUnterminated = errors.New("frame: unterminated line")

// Result is the output of one Ingest pass.
type Result struct {
	// Messages are complete lines in arrival order.
	Messages []string
	// Rejected are separator-terminated fragments that do not end with the
	// terminator. They can never complete and are handed up as malformed.
	Rejected []string
}

// Stats counts reassembly outcomes over the life of a Reassembler.
type Stats struct {
	Chunks   uint64
	Bytes    uint64
	Messages uint64
	Rejected uint64
	Joins    uint64
	Overflow uint64
}

// Option configures a Reassembler.
type Option func(*Reassembler)

// WithMaxTail bounds the pending tail. A tail longer than n bytes is moved to
// Rejected instead of being held. n <= 0 means unbounded.
func WithMaxTail(n int) Option {
	return func(r *Reassembler) {
		r.maxTail = n
	}
}

// Reassembler holds at most one pending partial line between Ingest calls.
// It is not safe for concurrent use; one reader goroutine owns it.
type Reassembler struct {
	tail    string
	hasTail bool
	maxTail int
	stats   Stats
}

func NewReassembler(opts ...Option) *Reassembler {
	r := &Reassembler{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest consumes one chunk and returns every line it completes.
func (r *Reassembler) Ingest(chunk []byte) Result {
	r.stats.Chunks++
	r.stats.Bytes += uint64(len(chunk))

	text := strings.ReplaceAll(string(chunk), "\r", "")
	fragments := strings.Split(text, separator)

	if r.hasTail {
		fragments[0] = r.tail + fragments[0]
		r.tail, r.hasTail = "", false
		r.stats.Joins++
	}

	var out Result
	last := len(fragments) - 1
	for i, fragment := range fragments {
		if fragment == "" {
			continue
		}
		if fragment[len(fragment)-1] == protocol.Terminator {
			out.Messages = append(out.Messages, fragment)
			continue
		}
		if i == last {
			if r.maxTail > 0 && len(fragment) > r.maxTail {
				r.stats.Overflow++
				out.Rejected = append(out.Rejected, fragment)
				continue
			}
			r.tail, r.hasTail = fragment, true
			continue
		}
		out.Rejected = append(out.Rejected, fragment)
	}

	r.stats.Messages += uint64(len(out.Messages))
	r.stats.Rejected += uint64(len(out.Rejected))
	return out
}

// Pending returns the held partial line, if any.
func (r *Reassembler) Pending() (string, bool) {
	return r.tail, r.hasTail
}

// Discard returns the held partial line and clears it.
func (r *Reassembler) Discard() (string, bool) {
	tail, ok := r.tail, r.hasTail
	r.tail, r.hasTail = "", false
	return tail, ok
}

// Reset clears the pending tail and the counters.
func (r *Reassembler) Reset() {
	r.tail, r.hasTail = "", false
	r.stats = Stats{}
}

func (r *Reassembler) Stats() Stats {
	return r.stats
}

// Split feeds chunks through a fresh Reassembler and collects every message.
// The final tail, if any, is returned separately.
func Split(chunks ...[]byte) (messages []string, rejected []string, tail string) {
	r := NewReassembler()
	for _, chunk := range chunks {
		res := r.Ingest(chunk)
		messages = append(messages, res.Messages...)
		rejected = append(rejected, res.Rejected...)
	}
	tail, _ = r.Pending()
	return messages, rejected, tail
}
