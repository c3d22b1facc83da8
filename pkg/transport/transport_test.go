package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/ryandielhenn/zephyrmesh/pkg/message"
)

func TestDecoderReadsLines(t *testing.T) {
	in := strings.Join([]string{
		`{"src":"c1","dest":"n1","body":{"type":"read","msg_id":1}}`,
		``,
		`{"src":"c1","dest":"n1","body":{"type":"read","msg_id":2}}`,
	}, "\n")
	d := NewDecoder(strings.NewReader(in), message.NewRegistry(message.Common()))

	for want := message.MsgID(1); want <= 2; want++ {
		env, err := d.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if id, _ := env.Body.ID(); id != want {
			t.Fatalf("msg_id = %d, want %d", id, want)
		}
	}
	if _, err := d.Next(); err != io.EOF {
		t.Fatalf("Next at end = %v, want io.EOF", err)
	}
}

func TestDecoderMalformedLine(t *testing.T) {
	d := NewDecoder(strings.NewReader("{nope}\n"), message.NewRegistry(message.Common()))
	_, err := d.Next()
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestWriterDoesNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	const G, N = 8, 50
	var wg sync.WaitGroup
	for g := range G {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range N {
				id := message.MsgID(i)
				env := message.Envelope{
					Src:  fmt.Sprintf("n%d", g),
					Dest: "c1",
					Body: message.Body{MsgID: &id, Payload: message.Error{Code: 13, Text: strings.Repeat("x", 200)}},
				}
				if err := w.Send(env); err != nil {
					t.Errorf("Send: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	d := NewDecoder(bufio.NewReader(&buf), message.NewRegistry(message.Common()))
	count := 0
	for {
		_, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("line %d corrupted: %v", count+1, err)
		}
		count++
	}
	if count != G*N {
		t.Fatalf("decoded %d envelopes, want %d", count, G*N)
	}
}
