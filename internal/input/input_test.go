package input

import (
	"errors"
	"testing"
	"time"

	"nlmirror/internal/types"
)

type event struct {
	touch  bool
	action int
	x, y   float64
	code   int
	meta   int
}

type recorder struct {
	events  []event
	failOn  int
	touches int
}

func (r *recorder) InjectTouch(a types.TouchAction, x, y float64) error {
	r.touches++
	r.events = append(r.events, event{touch: true, action: int(a), x: x, y: y})
	if r.failOn != 0 && r.touches == r.failOn {
		return errors.New("inject failed")
	}
	return nil
}

func (r *recorder) InjectKey(a types.KeyAction, code, meta int) error {
	r.events = append(r.events, event{action: int(a), code: code, meta: meta})
	return nil
}

func (r *recorder) InjectText(string) error { return nil }

func TestScaler(t *testing.T) {
	s := NewScaler()
	if x, y := s.Transform(10, 20); x != 10 || y != 20 {
		t.Fatalf("identity transform = (%v, %v)", x, y)
	}
	s.Configure(1080, 2400, 720, 1600)
	x, y := s.Transform(360, 800)
	if x != 540 || y != 1200 {
		t.Fatalf("Transform = (%v, %v), want (540, 1200)", x, y)
	}
}

func TestSwipeInterpolates(t *testing.T) {
	r := &recorder{}
	g := NewGestures(r)
	var slept time.Duration
	g.sleep = func(d time.Duration) { slept += d }

	if err := g.Swipe(0, 0, 100, 50, 0); err != nil {
		t.Fatal(err)
	}
	if len(r.events) != 7 {
		t.Fatalf("got %d events, want 7", len(r.events))
	}
	if r.events[0].action != int(types.TouchDown) || r.events[6].action != int(types.TouchUp) {
		t.Errorf("swipe must start with down and end with up: %+v", r.events)
	}
	mid := r.events[3]
	if mid.action != int(types.TouchMove) || mid.x != 60 || mid.y != 30 {
		t.Errorf("third move = %+v, want (60, 30)", mid)
	}
	if slept != DefaultSwipeDuration {
		t.Errorf("slept %v, want %v", slept, DefaultSwipeDuration)
	}
}

func TestTapRunsAllStepsOnFailure(t *testing.T) {
	r := &recorder{failOn: 1}
	g := NewGestures(r)
	g.sleep = func(time.Duration) {}

	if err := g.Tap(5, 5); err == nil {
		t.Fatal("expected error from failed down")
	}
	if len(r.events) != 2 {
		t.Fatalf("up must still be injected, got %d events", len(r.events))
	}
}

func TestCtrlCombo(t *testing.T) {
	r := &recorder{}
	if err := NewGestures(r).CtrlCombo(KeyCodeV); err != nil {
		t.Fatal(err)
	}
	want := []event{
		{action: int(types.KeyDown), code: KeyCodeCtrlLeft},
		{action: int(types.KeyDown), code: KeyCodeV, meta: MetaCtrlOn},
		{action: int(types.KeyUp), code: KeyCodeV, meta: MetaCtrlOn},
		{action: int(types.KeyUp), code: KeyCodeCtrlLeft},
	}
	if len(r.events) != len(want) {
		t.Fatalf("got %+v", r.events)
	}
	for i := range want {
		if r.events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, r.events[i], want[i])
		}
	}
}
