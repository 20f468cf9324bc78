//go:build linux

package audio

import (
	"fmt"
	"io"
	"sync"

	"nlmirror/internal/types"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// maxBuffered caps unread PCM; the oldest bytes are dropped beyond it.
const maxBuffered = SampleRate * Channels * 2

// pulseSource records the monitor of the default sink and hands the
// S16LE bytes to Read.
type pulseSource struct {
	client *pulse.Client
	stream *pulse.RecordStream

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

// Write implements pulse.Writer.
func (p *pulseSource) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, data...)
	if over := len(p.buf) - maxBuffered; over > 0 {
		p.buf = p.buf[over:]
	}
	p.cond.Broadcast()
	return len(data), nil
}

func (p *pulseSource) Format() byte { return proto.FormatInt16LE }

func (p *pulseSource) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *pulseSource) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	if p.stream != nil {
		p.stream.Stop()
	}
	p.client.Close()
	return nil
}

// Pulse captures the monitor source of the default PulseAudio sink.
func Pulse(appName string) Strategy {
	return Strategy{
		Name: "pulse",
		Open: func(rate, ch int) (types.PCMSource, error) {
			client, err := pulse.NewClient(pulse.ClientApplicationName(appName))
			if err != nil {
				return nil, fmt.Errorf("pulse connect: %w", err)
			}
			sink, err := client.DefaultSink()
			if err != nil {
				client.Close()
				return nil, fmt.Errorf("default sink: %w", err)
			}

			src := &pulseSource{client: client}
			src.cond = sync.NewCond(&src.mu)

			layout := pulse.RecordStereo
			if ch == 1 {
				layout = pulse.RecordMono
			}
			stream, err := client.NewRecord(src,
				pulse.RecordMonitor(sink),
				layout,
				pulse.RecordSampleRate(rate),
				pulse.RecordBufferFragmentSize(uint32(FrameBytesPCM)),
			)
			if err != nil {
				client.Close()
				return nil, fmt.Errorf("record stream: %w", err)
			}
			src.stream = stream
			stream.Start()
			return src, nil
		},
	}
}
