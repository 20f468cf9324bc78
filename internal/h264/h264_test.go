package h264

import (
	"bytes"
	"testing"
)

func TestNALType(t *testing.T) {
	for _, tc := range []struct {
		nal  []byte
		typ  byte
		isPS bool
	}{
		{[]byte{0x67, 0x42}, NALSPS, true},
		{[]byte{0x68, 0xce}, NALPPS, true},
		{[]byte{0x65, 0x88}, NALIDR, false},
		{[]byte{0x41}, NALSlice, false},
		{[]byte{0x09, 0xf0}, NALAUD, false},
		{nil, 0, false},
	} {
		if got := NALType(tc.nal); got != tc.typ {
			t.Errorf("NALType(%x) = %d, want %d", tc.nal, got, tc.typ)
		}
		if got := IsParameterSet(tc.nal); got != tc.isPS {
			t.Errorf("IsParameterSet(%x) = %v", tc.nal, got)
		}
	}
}

func TestAnnexB(t *testing.T) {
	if got := AnnexB([]byte{0x67}); !bytes.Equal(got, []byte{0, 0, 0, 1, 0x67}) {
		t.Fatalf("got %x", got)
	}
}
