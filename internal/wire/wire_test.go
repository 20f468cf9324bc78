package wire

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"nlmirror/internal/types"
)

func TestEncodePacketLayout(t *testing.T) {
	payload := []byte{0, 0, 0, 1, 0x65, 0xaa}
	pkt := EncodePacket(123456789, payload)

	if len(pkt) != HeaderSize+len(payload) {
		t.Fatalf("len = %d, want %d", len(pkt), HeaderSize+len(payload))
	}
	if got := int64(binary.BigEndian.Uint64(pkt[0:8])); got != 123456789 {
		t.Errorf("pts = %d", got)
	}
	if got := binary.BigEndian.Uint32(pkt[8:12]); got != uint32(len(payload)) {
		t.Errorf("size = %d", got)
	}
	if !bytes.Equal(pkt[12:], payload) {
		t.Errorf("payload not preserved: %x", pkt[12:])
	}
}

func TestParameterSetPacketHasZeroPTS(t *testing.T) {
	pkt := PacketFromUnit(types.EncodedUnit{PTS: 99, Payload: []byte{0, 0, 0, 1, 0x67}, IsParameterSet: true})
	if pts := binary.BigEndian.Uint64(pkt[0:8]); pts != 0 {
		t.Fatalf("parameter set pts = %d, want 0", pts)
	}
}

func TestReadPacket(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodePacket(42, []byte("frame")))
	buf.Write(EncodePacket(43, nil))

	pts, data, err := ReadPacket(&buf)
	if err != nil || pts != 42 || string(data) != "frame" {
		t.Fatalf("got (%d, %q, %v)", pts, data, err)
	}
	pts, data, err = ReadPacket(&buf)
	if err != nil || pts != 43 || len(data) != 0 {
		t.Fatalf("got (%d, %q, %v)", pts, data, err)
	}
}

func TestAudioHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAudioHeader(&buf, AudioHeader{SampleRate: 48000, Channels: 2, Codec: CodecPCM16}); err != nil {
		t.Fatal(err)
	}
	want := []byte{'A', 'U', 'D', 'I', 'O', 0, 0, 0, 0xbb, 0x80, 2, 0}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("header = %x, want %x", buf.Bytes(), want)
	}
	h, err := ReadAudioHeader(&buf)
	if err != nil || h.SampleRate != 48000 || h.Channels != 2 || h.Codec != CodecPCM16 {
		t.Fatalf("got %+v, %v", h, err)
	}
}

func TestParseHandshake(t *testing.T) {
	def := Handshake{Bitrate: DefaultBitrate, MaxSize: DefaultMaxSize}
	tests := []struct {
		line string
		want Handshake
	}{
		{"bitrate=4000000&max_size=720", Handshake{4000000, 720}},
		{"max_size=1280\n", Handshake{DefaultBitrate, 1280}},
		{"bitrate=abc&max_size=", def},
		{"garbage", def},
		{"", def},
		{"foo=1&bitrate=2000000", Handshake{2000000, DefaultMaxSize}},
	}
	for _, tt := range tests {
		if got := ParseHandshake(tt.line, def); got != tt.want {
			t.Errorf("ParseHandshake(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestReadHandshakeTimeoutFallsBack(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	def := Handshake{Bitrate: DefaultBitrate, MaxSize: DefaultMaxSize}
	start := time.Now()
	h, _ := ReadHandshake(server, 50*time.Millisecond, def)
	if h != def {
		t.Fatalf("got %+v, want defaults", h)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("handshake read did not honour timeout")
	}
}

func TestReadHandshakeLine(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go client.Write([]byte("bitrate=4000000&max_size=720\n"))
	h, _ := ReadHandshake(server, time.Second, Handshake{DefaultBitrate, DefaultMaxSize})
	if h.Bitrate != 4000000 || h.MaxSize != 720 {
		t.Fatalf("got %+v", h)
	}
}
