// Package cluster fans a run out across worker processes. The primary
// partitions the account list, spawns one worker per chunk, and exchanges
// JSON-lines messages with each worker over its stdin/stdout pipes.
package cluster

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"rewardbot/internal/accounts"
	"rewardbot/internal/runner"
)

// Kind tags the message union on the wire.
type Kind string

const (
	// KindChunk carries the primary's account chunk to a worker.
	KindChunk Kind = "chunk"
	// KindSummary carries a worker's per-account summaries back.
	KindSummary Kind = "summary"
)

// Message is one line of the primary/worker protocol. Exactly one payload
// field is populated, selected by Kind.
type Message struct {
	Kind Kind `json:"kind"`

	Chunk     []accounts.Account `json:"chunk,omitempty"`
	Summaries []runner.Summary   `json:"summaries"`
}

func NewChunk(chunk []accounts.Account) Message {
	return Message{Kind: KindChunk, Chunk: chunk}
}

func NewSummary(sums []runner.Summary) Message {
	if sums == nil {
		sums = []runner.Summary{}
	}
	return Message{Kind: KindSummary, Summaries: sums}
}

// Validate rejects malformed or mixed-payload messages. Both ends validate
// before acting, so a confused peer cannot smuggle a half-filled union.
func (m Message) Validate() error {
	switch m.Kind {
	case KindChunk:
		if len(m.Chunk) == 0 {
			return errors.New("cluster: chunk message has no accounts")
		}
		if m.Summaries != nil {
			return errors.New("cluster: chunk message carries summaries")
		}
	case KindSummary:
		if m.Summaries == nil {
			return errors.New("cluster: summary message has no summaries")
		}
		if m.Chunk != nil {
			return errors.New("cluster: summary message carries a chunk")
		}
	default:
		return fmt.Errorf("cluster: unknown message kind %q", m.Kind)
	}
	return nil
}

// maxLineBytes bounds a single protocol line. Chunks and summary batches are
// small; anything near this size is a corrupt stream.
const maxLineBytes = 16 << 20

// Stream frames validated Messages as JSON lines over a reader/writer pair.
type Stream struct {
	enc *json.Encoder
	sc  *bufio.Scanner
}

func NewStream(r io.Reader, w io.Writer) *Stream {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Stream{enc: json.NewEncoder(w), sc: sc}
}

func (s *Stream) Send(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.enc.Encode(m)
}

func (s *Stream) Recv() (Message, error) {
	for s.sc.Scan() {
		line := s.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, fmt.Errorf("cluster: decode message: %w", err)
		}
		if err := m.Validate(); err != nil {
			return Message{}, err
		}
		return m, nil
	}
	if err := s.sc.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}
