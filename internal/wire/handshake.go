package wire

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBitrate = 8_000_000
	DefaultMaxSize = 1080
)

// Handshake carries the viewer's optional stream parameters.
type Handshake struct {
	Bitrate int
	MaxSize int
}

// ParseHandshake parses "bitrate=4000000&max_size=720". Unknown keys are
// ignored; missing or unparseable values keep the given defaults.
func ParseHandshake(line string, def Handshake) Handshake {
	h := def
	line = strings.TrimSpace(line)
	if line == "" {
		return h
	}
	for _, part := range strings.Split(line, "&") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			continue
		}
		switch strings.TrimSpace(k) {
		case "bitrate":
			h.Bitrate = n
		case "max_size":
			h.MaxSize = n
		}
	}
	return h
}

// ReadHandshake reads a single handshake line from conn within timeout.
// A missing line, a timeout or garbage all yield def; the deadline is
// cleared before returning. The returned reader holds any bytes read past
// the line and must be used for further reads from conn.
func ReadHandshake(conn net.Conn, timeout time.Duration, def Handshake) (Handshake, *bufio.Reader) {
	br := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	line, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return def, br
	}
	return ParseHandshake(line, def), br
}
