package audio

import (
	"fmt"

	"nlmirror/internal/wire"
)

const (
	// FrameBytesPCM is the read size for raw PCM: 1024 stereo S16 frames.
	FrameBytesPCM = 4096
	opusFrameMs   = 20
)

// Codec turns fixed-size PCM chunks into payloads for the audio stream.
type Codec interface {
	// Type is the codec byte written in the stream header.
	Type() byte
	// FrameBytes is the PCM input size expected by Encode.
	FrameBytes() int
	Encode(pcm []byte) ([]byte, error)
}

type pcmCodec struct{}

func (pcmCodec) Type() byte      { return wire.CodecPCM16 }
func (pcmCodec) FrameBytes() int { return FrameBytesPCM }

func (pcmCodec) Encode(pcm []byte) ([]byte, error) {
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return out, nil
}

// NewCodec returns the codec called name ("pcm" or "opus").
func NewCodec(name string, sampleRate, channels int) (Codec, error) {
	switch name {
	case "", "pcm":
		return pcmCodec{}, nil
	case "opus":
		return newOpusCodec(sampleRate, channels)
	}
	return nil, fmt.Errorf("unknown audio codec %q", name)
}
