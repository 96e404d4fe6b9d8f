// Package wire frames the app-server protocol: one JSON object per line,
// UTF-8, newline terminated. It owns no state beyond the stream handles.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/codexola/codexola/internal/proto"
)

// maxLineSize bounds a single protocol line. Turn outputs can be large but
// a frame beyond this is a protocol violation, not data.
const maxLineSize = 8 * 1024 * 1024

// Encoder writes newline-delimited JSON messages. The full line, not just
// the syscall, is guarded by a lock so concurrent writers never interleave
// partial frames.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v and writes it as a single line.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal message: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("wire: write message: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON messages. The sequence ends with
// io.EOF when the stream closes, which is the signal that the owning
// process has exited.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Decoder{s: s}
}

// Next returns the next message. Empty lines are skipped. A line that is
// not valid JSON is returned as a synthetic parse-error diagnostic rather
// than terminating the stream.
func (d *Decoder) Next() (proto.Message, error) {
	for d.s.Scan() {
		line := strings.TrimSpace(d.s.Text())
		if line == "" {
			continue
		}
		var msg proto.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return proto.ParseErrorMessage(line, err), nil
		}
		return msg, nil
	}
	if err := d.s.Err(); err != nil {
		return proto.Message{}, fmt.Errorf("wire: read message: %w", err)
	}
	return proto.Message{}, io.EOF
}
