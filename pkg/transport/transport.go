// Package transport frames envelopes as newline-delimited JSON over a byte
// stream. It keeps no protocol state.
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ryandielhenn/zephyrmesh/pkg/message"
)

// maxLine bounds a single envelope; read_ok replies can carry large sets.
const maxLine = 16 << 20

// ErrMalformed wraps every line that does not decode to an envelope.
var ErrMalformed = errors.New("malformed envelope")

// Decoder reads one envelope per line.
type Decoder struct {
	sc   *bufio.Scanner
	reg  *message.Registry
	line int
}

func NewDecoder(r io.Reader, reg *message.Registry) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	return &Decoder{sc: sc, reg: reg}
}

// Next returns the next envelope, io.EOF at end of input, or an error
// wrapping ErrMalformed for a line that cannot be decoded.
func (d *Decoder) Next() (message.Envelope, error) {
	for d.sc.Scan() {
		d.line++
		line := bytes.TrimSpace(d.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		env, err := message.Decode(line, d.reg)
		if err != nil {
			return message.Envelope{}, fmt.Errorf("%w: line %d: %v", ErrMalformed, d.line, err)
		}
		return env, nil
	}
	if err := d.sc.Err(); err != nil {
		return message.Envelope{}, fmt.Errorf("read input: %w", err)
	}
	return message.Envelope{}, io.EOF
}

// Writer emits whole envelopes; concurrent Sends never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Send(env message.Envelope) error {
	data, err := message.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope for %s: %w", env.Dest, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}
