// Package h264 holds the Annex-B helpers shared by the encoder backends.
package h264

// StartCode precedes every NAL unit on the wire.
var StartCode = []byte{0, 0, 0, 1}

const (
	NALSlice = 1
	NALIDR   = 5
	NALSEI   = 6
	NALSPS   = 7
	NALPPS   = 8
	NALAUD   = 9
)

// NALType returns the nal_unit_type of a NAL without start code.
func NALType(nal []byte) byte {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

// IsParameterSet reports whether nal (without start code) is an SPS or PPS.
func IsParameterSet(nal []byte) bool {
	t := NALType(nal)
	return t == NALSPS || t == NALPPS
}

// AnnexB prefixes nal with a 4-byte start code.
func AnnexB(nal []byte) []byte {
	out := make([]byte, 0, len(StartCode)+len(nal))
	out = append(out, StartCode...)
	return append(out, nal...)
}
