package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"nlmirror/internal/types"
)

// HeaderSize is the fixed prefix of every media packet: 8-byte PTS + 4-byte length.
const HeaderSize = 12

// MaxPayload bounds the length field accepted by ReadPacket.
const MaxPayload = 16 << 20

// EncodePacket returns [PTS int64 BE][Size int32 BE][payload].
func EncodePacket(pts int64, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(pts))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// PacketFromUnit frames one encoded unit. Parameter sets always go out with PTS 0.
func PacketFromUnit(u types.EncodedUnit) []byte {
	pts := u.PTS
	if u.IsParameterSet {
		pts = 0
	}
	return EncodePacket(pts, u.Payload)
}

// ReadPacket reads one framed packet from r.
func ReadPacket(r io.Reader) (int64, []byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	pts := int64(binary.BigEndian.Uint64(hdr[0:8]))
	n := int32(binary.BigEndian.Uint32(hdr[8:12]))
	if n < 0 || int(n) > MaxPayload {
		return 0, nil, fmt.Errorf("invalid packet length: %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return pts, buf, nil
}
