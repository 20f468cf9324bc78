package audio

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nlmirror/internal/types"
)

const relayStatsInterval = 5 * time.Second

// udpSource receives raw S16LE PCM datagrams pushed by a device-side
// forwarder and exposes them as a byte stream.
type udpSource struct {
	conn net.PacketConn
	once sync.Once
	stop chan struct{}

	buf     []byte
	pending []byte
	seen    bool

	packets atomic.Int64
	bytes   atomic.Int64
}

// UDPRelay listens on listenAddr for PCM datagrams. An empty address
// disables the strategy.
func UDPRelay(listenAddr string) Strategy {
	return Strategy{
		Name: "udp-relay",
		Open: func(int, int) (types.PCMSource, error) {
			if listenAddr == "" {
				return nil, fmt.Errorf("no relay address: %w", types.ErrUnsupported)
			}
			network := "udp4"
			if strings.Contains(listenAddr, "[") {
				network = "udp6"
			}
			conn, err := net.ListenPacket(network, listenAddr)
			if err != nil {
				conn, err = net.ListenPacket("udp", listenAddr)
				if err != nil {
					return nil, fmt.Errorf("listen udp %q: %w", listenAddr, err)
				}
				network = "udp"
			}
			log.Printf("audio: listening for relayed PCM on %s://%s", network, conn.LocalAddr())
			src := &udpSource{conn: conn, stop: make(chan struct{}), buf: make([]byte, 64*1024)}
			go src.logStats()
			return src, nil
		},
	}
}

func (s *udpSource) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		n, addr, err := s.conn.ReadFrom(s.buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return 0, io.EOF
			}
			return 0, err
		}
		if n == 0 {
			continue
		}
		if !s.seen {
			s.seen = true
			log.Printf("audio: first relay packet from %s (%d bytes)", addr, n)
		}
		s.packets.Add(1)
		s.bytes.Add(int64(n))
		s.pending = s.buf[:n]
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *udpSource) logStats() {
	ticker := time.NewTicker(relayStatsInterval)
	defer ticker.Stop()
	var lastPackets, lastBytes int64
	secs := int64(relayStatsInterval / time.Second)
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			p, b := s.packets.Load(), s.bytes.Load()
			if p != lastPackets {
				log.Printf("audio: relay pps=%d bps=%d total_packets=%d total_bytes=%d",
					(p-lastPackets)/secs, (b-lastBytes)/secs, p, b)
			}
			lastPackets, lastBytes = p, b
		}
	}
}

func (s *udpSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.conn.Close()
	})
	return err
}
