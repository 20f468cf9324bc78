package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// AudioMagic opens every audio stream.
var AudioMagic = [6]byte{'A', 'U', 'D', 'I', 'O', 0}

// AudioHeaderSize is magic + sample rate + channels + codec.
const AudioHeaderSize = 12

const (
	CodecPCM16 byte = 0
	CodecOpus  byte = 1
)

type AudioHeader struct {
	SampleRate int
	Channels   int
	Codec      byte
}

func (h AudioHeader) MarshalBinary() ([]byte, error) {
	if h.Channels <= 0 || h.Channels > 255 {
		return nil, fmt.Errorf("invalid channel count: %d", h.Channels)
	}
	buf := make([]byte, AudioHeaderSize)
	copy(buf[0:6], AudioMagic[:])
	binary.BigEndian.PutUint32(buf[6:10], uint32(h.SampleRate))
	buf[10] = byte(h.Channels)
	buf[11] = h.Codec
	return buf, nil
}

// WriteAudioHeader writes the one-time stream header.
func WriteAudioHeader(w io.Writer, h AudioHeader) error {
	buf, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadAudioHeader reads and validates the stream header.
func ReadAudioHeader(r io.Reader) (AudioHeader, error) {
	var buf [AudioHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return AudioHeader{}, err
	}
	if !bytes.Equal(buf[0:6], AudioMagic[:]) {
		return AudioHeader{}, fmt.Errorf("bad audio magic: %q", buf[0:6])
	}
	return AudioHeader{
		SampleRate: int(binary.BigEndian.Uint32(buf[6:10])),
		Channels:   int(buf[10]),
		Codec:      buf[11],
	}, nil
}
