//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"

	"nlmirror/internal/wire"

	"github.com/hraban/opus"
)

type opusCodec struct {
	enc        *opus.Encoder
	frameBytes int
	pcm        []int16
	out        []byte
}

func newOpusCodec(sampleRate, channels int) (Codec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	samples := sampleRate * opusFrameMs / 1000 * channels
	return &opusCodec{
		enc:        enc,
		frameBytes: samples * 2,
		pcm:        make([]int16, samples),
		out:        make([]byte, 4000),
	}, nil
}

func (c *opusCodec) Type() byte      { return wire.CodecOpus }
func (c *opusCodec) FrameBytes() int { return c.frameBytes }

func (c *opusCodec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != c.frameBytes {
		return nil, fmt.Errorf("opus: frame is %d bytes, want %d", len(pcm), c.frameBytes)
	}
	for i := range c.pcm {
		c.pcm[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	n, err := c.enc.Encode(c.pcm, c.out)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, c.out[:n])
	return out, nil
}
