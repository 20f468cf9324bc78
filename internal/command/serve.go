package command

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
)

// MaxLineSize bounds a single request line.
const MaxLineSize = 1 << 20

// Handle parses one request line and dispatches it. Malformed input yields
// an error response rather than an error.
func (d *Dispatcher) Handle(line []byte) Response {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return failure(errors.New("empty command"))
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return failure(err)
	}
	return d.Dispatch(&req)
}

// Encode renders resp as one newline-terminated JSON line.
func Encode(w io.Writer, resp Response) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

// Serve answers requests on conn until the peer disconnects or a write
// fails. A bad request never ends the loop.
func (d *Dispatcher) Serve(id string, conn io.ReadWriter) error {
	r := bufio.NewReaderSize(conn, 64*1024)
	w := bufio.NewWriter(conn)
	for {
		line, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("command %s: read: %w", id, err)
		}
		resp := d.Handle(line)
		if resp.Error != "" {
			log.Printf("command %s: %s", id, resp.Error)
		}
		if err := Encode(w, resp); err != nil {
			return fmt.Errorf("command %s: write: %w", id, err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("command %s: write: %w", id, err)
		}
	}
}

// readLine returns the next line without its terminator. An over-long
// line is consumed and reported as a parse failure by the caller.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) <= MaxLineSize {
			buf = append(buf, chunk...)
		}
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return buf, nil
		default:
			return nil, err
		}
	}
}
