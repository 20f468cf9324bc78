package input

import (
	"errors"
	"time"

	"nlmirror/internal/types"
)

// Android key codes used by the clipboard shortcuts.
const (
	KeyCodeC        = 31
	KeyCodeV        = 50
	KeyCodeCtrlLeft = 113
	MetaCtrlOn      = 4096
)

const (
	DefaultSwipeDuration     = 300 * time.Millisecond
	DefaultLongPressDuration = 500 * time.Millisecond
	tapHold                  = 10 * time.Millisecond
	swipeSteps               = 5
)

// Gestures builds multi-event gestures from touch and key primitives.
// Every step runs even if an earlier one failed; the joined error reports
// all failures.
type Gestures struct {
	in    types.InputInjector
	sleep func(time.Duration)
}

func NewGestures(in types.InputInjector) *Gestures {
	return &Gestures{in: in, sleep: time.Sleep}
}

func (g *Gestures) Tap(x, y float64) error {
	down := g.in.InjectTouch(types.TouchDown, x, y)
	g.sleep(tapHold)
	up := g.in.InjectTouch(types.TouchUp, x, y)
	return errors.Join(down, up)
}

func (g *Gestures) Swipe(x1, y1, x2, y2 float64, d time.Duration) error {
	if d <= 0 {
		d = DefaultSwipeDuration
	}
	step := d / swipeSteps
	errs := []error{g.in.InjectTouch(types.TouchDown, x1, y1)}
	for i := 1; i <= swipeSteps; i++ {
		r := float64(i) / swipeSteps
		g.sleep(step)
		errs = append(errs, g.in.InjectTouch(types.TouchMove, x1+(x2-x1)*r, y1+(y2-y1)*r))
	}
	errs = append(errs, g.in.InjectTouch(types.TouchUp, x2, y2))
	return errors.Join(errs...)
}

func (g *Gestures) LongPress(x, y float64, d time.Duration) error {
	if d <= 0 {
		d = DefaultLongPressDuration
	}
	down := g.in.InjectTouch(types.TouchDown, x, y)
	g.sleep(d)
	up := g.in.InjectTouch(types.TouchUp, x, y)
	return errors.Join(down, up)
}

// Key presses and releases keyCode.
func (g *Gestures) Key(keyCode int) error {
	down := g.in.InjectKey(types.KeyDown, keyCode, 0)
	up := g.in.InjectKey(types.KeyUp, keyCode, 0)
	return errors.Join(down, up)
}

// CtrlCombo sends Ctrl+<keyCode>.
func (g *Gestures) CtrlCombo(keyCode int) error {
	return errors.Join(
		g.in.InjectKey(types.KeyDown, KeyCodeCtrlLeft, 0),
		g.in.InjectKey(types.KeyDown, keyCode, MetaCtrlOn),
		g.in.InjectKey(types.KeyUp, keyCode, MetaCtrlOn),
		g.in.InjectKey(types.KeyUp, KeyCodeCtrlLeft, 0),
	)
}
