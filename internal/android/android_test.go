package android

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nlmirror/internal/types"
)

func TestParseWMSize(t *testing.T) {
	tests := []struct {
		out  string
		w, h int
		ok   bool
	}{
		{"Physical size: 1080x2400\n", 1080, 2400, true},
		{"Physical size: 1440x3120\nOverride size: 1080x2340\n", 1080, 2340, true},
		{"error: no display\n", 0, 0, false},
	}
	for _, tt := range tests {
		w, h, ok := parseWMSize(tt.out)
		if w != tt.w || h != tt.h || ok != tt.ok {
			t.Errorf("parseWMSize(%q) = %d, %d, %v", tt.out, w, h, ok)
		}
	}
}

func TestParseRotation(t *testing.T) {
	for out, want := range map[string]int{
		"      SurfaceOrientation: 1\n": 1,
		"    Viewport INTERNAL: displayId=0, uniqueId=local:0, port=0, orientation=3, logicalFrame=[0, 0, 2400, 1080]": 3,
	} {
		got, err := parseRotation(out)
		if err != nil || got != want {
			t.Errorf("parseRotation(%q) = %d, %v; want %d", out, got, err, want)
		}
	}
	if _, err := parseRotation("nothing here"); err == nil {
		t.Error("missing orientation accepted")
	}
}

type lines struct {
	mu  sync.Mutex
	got []string
	err error
}

func (l *lines) Exec(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, line)
	return l.err
}

func (l *lines) Run(ctx context.Context, script string) error { return l.Exec(script) }

func TestInputKeys(t *testing.T) {
	sh := &lines{}
	in := NewInput(sh)

	// Ctrl+C as the clipboard helper sends it.
	in.InjectKey(types.KeyDown, 113, 0)
	in.InjectKey(types.KeyDown, 31, 4096)
	in.InjectKey(types.KeyUp, 31, 4096)
	in.InjectKey(types.KeyUp, 113, 0)
	// A plain key press.
	in.InjectKey(types.KeyDown, 4, 0)
	in.InjectKey(types.KeyUp, 4, 0)

	want := []string{"input keycombination 113 31", "input keyevent 4"}
	if strings.Join(sh.got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", sh.got, want)
	}
}

func TestInputTouchAndText(t *testing.T) {
	sh := &lines{}
	in := NewInput(sh)
	in.InjectTouch(types.TouchDown, 539.6, 1200.2)
	in.InjectText("it's 100% done\nok")

	want := []string{
		"input motionevent DOWN 540 1200",
		`input text 'it'\''s%s100\%%sdone'`,
		"input keyevent 66",
		"input text 'ok'",
	}
	if strings.Join(sh.got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines =\n%q\nwant\n%q", sh.got, want)
	}
}

func TestLocationAutoStarts(t *testing.T) {
	sh := &lines{}
	loc := NewLocation(sh)
	fix := types.LocationFix{Lat: 48.8584, Lon: 2.2945, Time: time.UnixMilli(1700000000000)}
	if err := loc.SetLocation(fix); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(sh.got, "\n")
	for _, p := range MockProviders {
		if !strings.Contains(joined, "add-test-provider "+p) {
			t.Errorf("provider %s not registered", p)
		}
		if !strings.Contains(joined, "set-test-provider-location "+p+" --location 48.8584,2.2945 --accuracy 5 --time 1700000000000") {
			t.Errorf("provider %s did not get the fix", p)
		}
	}

	n := len(sh.got)
	loc.SetLocation(fix)
	if added := strings.Count(strings.Join(sh.got[n:], "\n"), "add-test-provider"); added != 0 {
		t.Errorf("providers re-registered %d times", added)
	}
	if err := loc.StopMocking(); err != nil {
		t.Fatal(err)
	}
}

func TestPowerMode(t *testing.T) {
	sh := &lines{}
	p := NewPrivileged(nil, sh)
	if err := p.SetDisplayPowerMode(PowerModeOff); err != nil {
		t.Fatal(err)
	}
	if err := p.SetDisplayPowerMode(7); !errors.Is(err, types.ErrUnsupported) {
		t.Fatalf("mode 7: %v", err)
	}
	if _, err := p.OpenAudioLoopback(48000, 2); !errors.Is(err, types.ErrUnsupported) {
		t.Fatalf("audio loopback: %v", err)
	}
	if err := p.SetDisplayPowerMode(PowerModeNormal); err != nil {
		t.Fatal(err)
	}
	// Off and normal are device-wide sleep and wake.
	if len(sh.got) != 2 || sh.got[0] != "input keyevent 223" || sh.got[1] != "input keyevent 224" {
		t.Fatalf("lines = %q", sh.got)
	}
}

var (
	sps   = []byte{0x67, 0x42, 0x00, 0x1f, 0x96}
	pps   = []byte{0x68, 0xce, 0x3c, 0x80}
	idr   = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	slice = []byte{0x41, 0x9a, 0x02, 0x04}
	aud   = []byte{0x09, 0xf0}
)

func annexB(nals ...[]byte) []byte {
	var b []byte
	for _, n := range nals {
		b = append(b, 0, 0, 0, 1)
		b = append(b, n...)
	}
	return b
}

func TestAssemblerOrdersParameterSets(t *testing.T) {
	a := &assembler{}
	var outs []*types.EncoderOutput
	for i, n := range [][]byte{sps, pps, aud, idr, slice, sps, pps, idr} {
		outs = append(outs, a.push(n, int64(i))...)
	}
	// format, AUD+IDR, slice, IDR; the repeated identical SPS/PPS adds nothing.
	if len(outs) != 4 {
		t.Fatalf("got %d outputs, want 4", len(outs))
	}
	if !outs[0].FormatChanged || !bytes.Equal(outs[0].ParameterSets[0], annexB(sps)) {
		t.Fatalf("first output %+v", outs[0])
	}
	if !bytes.Equal(outs[1].Unit.Payload, annexB(aud, idr)) {
		t.Fatalf("access unit = %x", outs[1].Unit.Payload)
	}
	if outs[1].Unit.PTS != 3 {
		t.Fatalf("pts = %d", outs[1].Unit.PTS)
	}
}

// fakeLaunch serves stream on the first launch and then blocks until
// cancelled.
func fakeLaunch(stream []byte, waitErr error) (launchFunc, *atomic.Int32) {
	calls := new(atomic.Int32)
	return func(ctx context.Context, script string) (io.ReadCloser, func() error, error) {
		if calls.Add(1) == 1 {
			return io.NopCloser(bytes.NewReader(stream)), func() error { return waitErr }, nil
		}
		r, w := io.Pipe()
		go func() {
			<-ctx.Done()
			w.Close()
		}()
		return r, func() error { return nil }, nil
	}, calls
}

func TestRecorderStreams(t *testing.T) {
	rec := &Recorder{probe: time.Second}
	var calls *atomic.Int32
	rec.launch, calls = fakeLaunch(annexB(sps, pps, idr, slice, aud), nil)

	cfg := types.EncoderConfig{Width: 720, Height: 1600, Bitrate: 4000000}
	enc, err := rec.NewEncoder(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rec.AcquireSurface(enc.InputSurface(), 720, 1600); err != nil {
		t.Fatal(err)
	}
	if err := enc.Start(); err != nil {
		t.Fatal(err)
	}
	defer enc.Release()

	out, err := enc.Dequeue(time.Second)
	if err != nil || out == nil || !out.FormatChanged || len(out.ParameterSets) != 2 {
		t.Fatalf("first output %+v, %v", out, err)
	}
	out, err = enc.Dequeue(time.Second)
	if err != nil || out == nil || !bytes.Equal(out.Unit.Payload, annexB(idr)) {
		t.Fatalf("second output %+v, %v", out, err)
	}

	// screenrecord exiting on its own is followed by a relaunch.
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		enc.Dequeue(10 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatal("screenrecord was not relaunched")
	}
}

func TestRecorderRejectedConfiguration(t *testing.T) {
	rec := &Recorder{probe: time.Second}
	rec.launch, _ = fakeLaunch(nil, errors.New("unable to configure video/avc codec"))

	enc, err := rec.NewEncoder(types.EncoderConfig{Width: 4096, Height: 8192, Bitrate: 8000000})
	if err != nil {
		t.Fatal(err)
	}
	err = enc.Start()
	if err == nil || !strings.Contains(err.Error(), "exited without output") {
		t.Fatalf("start = %v, want a configuration failure", err)
	}
	enc.Release()
}

func TestRecorderValidatesConfig(t *testing.T) {
	rec := &Recorder{probe: time.Second}
	if _, err := rec.NewEncoder(types.EncoderConfig{Width: 721, Height: 1600, Bitrate: 1}); err == nil {
		t.Fatal("odd width accepted")
	}
	if _, err := rec.AcquireSurface(recordSurface{720, 1600}, 720, 1280); err == nil {
		t.Fatal("mismatched capture size accepted")
	}
	if got := rec.script(types.EncoderConfig{Width: 720, Height: 1600, Bitrate: 4000000, DisplayID: 2}); got != "screenrecord --output-format=h264 --size 720x1600 --bit-rate 4000000 --display-id 2 -" {
		t.Fatalf("script = %q", got)
	}
}
