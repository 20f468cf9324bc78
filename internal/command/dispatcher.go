// Package command implements the line-delimited JSON control protocol.
package command

import (
	"expvar"
	"fmt"
	"log"
	"time"

	"nlmirror/internal/input"
	"nlmirror/internal/tasks"
	"nlmirror/internal/types"
)

// DefaultCopyDelay is how long get_clipboard waits after Ctrl+C.
const DefaultCopyDelay = 50 * time.Millisecond

var (
	evHandled = expvar.NewInt("commands_handled")
	evFailed  = expvar.NewInt("commands_failed")
)

// DisplayPower toggles the panel; a PrivilegedContext satisfies it.
type DisplayPower interface {
	SetDisplayPowerMode(mode int) error
}

// Deps are the capabilities commands act on. Nil capabilities make their
// commands fail with types.ErrUnsupported.
type Deps struct {
	Input       types.InputInjector
	Clipboard   types.Clipboard
	Location    types.LocationSpoofer
	Diagnostics types.Diagnostics
	Power       DisplayPower
	Scaler      *input.Scaler
	Tasks       *tasks.Runner
	CopyDelay   time.Duration
}

type handler func(*Dispatcher, *Request) (Response, error)

var handlers = map[string]handler{
	"touch":                 (*Dispatcher).touch,
	"keycode":               (*Dispatcher).keycode,
	"text":                  (*Dispatcher).text,
	"set_clipboard":         (*Dispatcher).setClipboard,
	"get_clipboard":         (*Dispatcher).getClipboard,
	"tap":                   (*Dispatcher).tap,
	"swipe":                 (*Dispatcher).swipe,
	"long_press":            (*Dispatcher).longPress,
	"key":                   (*Dispatcher).key,
	"hierarchy":             (*Dispatcher).hierarchy,
	"stats":                 (*Dispatcher).stats,
	"set_screen_power_mode": (*Dispatcher).setScreenPowerMode,
	"start_mock_location":   (*Dispatcher).startMockLocation,
	"stop_mock_location":    (*Dispatcher).stopMockLocation,
	"set_location":          (*Dispatcher).setLocation,
}

// Dispatcher executes requests against the device capabilities. It is
// shared by all command connections.
type Dispatcher struct {
	deps     Deps
	gestures *input.Gestures
	sleep    func(time.Duration)
	now      func() time.Time
}

func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Scaler == nil {
		deps.Scaler = input.NewScaler()
	}
	if deps.Tasks == nil {
		deps.Tasks = tasks.NewRunner()
	}
	if deps.CopyDelay <= 0 {
		deps.CopyDelay = DefaultCopyDelay
	}
	d := &Dispatcher{deps: deps, sleep: time.Sleep, now: time.Now}
	if deps.Input != nil {
		d.gestures = input.NewGestures(deps.Input)
	}
	return d
}

// Dispatch runs req and always produces a response.
func (d *Dispatcher) Dispatch(req *Request) (resp Response) {
	evHandled.Add(1)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("command: %s panic: %v", req.Cmd, r)
			resp = failure(fmt.Errorf("%v", r))
		}
		if resp.Error != "" {
			evFailed.Add(1)
		}
	}()

	h, ok := handlers[req.Cmd]
	if !ok {
		return Response{Error: "Unknown command: " + req.Cmd}
	}
	resp, err := h(d, req)
	if err != nil {
		return failure(err)
	}
	return resp
}

// outcome converts a capability error into success:false.
func outcome(cmd string, err error) (Response, error) {
	if err != nil {
		log.Printf("command: %s: %v", cmd, err)
	}
	return success(cmd, err == nil), nil
}

func (d *Dispatcher) injector() (types.InputInjector, error) {
	if d.deps.Input == nil {
		return nil, fmt.Errorf("input injection: %w", types.ErrUnsupported)
	}
	return d.deps.Input, nil
}

func (d *Dispatcher) point(xf, yf string, x, y *float64) (float64, float64, error) {
	rx, err := need(x, xf)
	if err != nil {
		return 0, 0, err
	}
	ry, err := need(y, yf)
	if err != nil {
		return 0, 0, err
	}
	sx, sy := d.deps.Scaler.Transform(rx, ry)
	return sx, sy, nil
}

func duration(ms *int64) time.Duration {
	if ms == nil {
		return 0
	}
	return time.Duration(*ms) * time.Millisecond
}

func (d *Dispatcher) touch(req *Request) (Response, error) {
	in, err := d.injector()
	if err != nil {
		return Response{}, err
	}
	var action types.TouchAction
	switch req.Action {
	case "down":
		action = types.TouchDown
	case "move":
		action = types.TouchMove
	case "up":
		action = types.TouchUp
	default:
		return Response{}, fmt.Errorf("invalid touch action %q", req.Action)
	}
	x, y, err := d.point("x", "y", req.X, req.Y)
	if err != nil {
		return Response{}, err
	}
	return outcome(req.Cmd, in.InjectTouch(action, x, y))
}

func (d *Dispatcher) keycode(req *Request) (Response, error) {
	in, err := d.injector()
	if err != nil {
		return Response{}, err
	}
	var action types.KeyAction
	switch req.Action {
	case "down":
		action = types.KeyDown
	case "up":
		action = types.KeyUp
	default:
		return Response{}, fmt.Errorf("invalid key action %q", req.Action)
	}
	code, err := need(req.KeyCode, "keyCode")
	if err != nil {
		return Response{}, err
	}
	return outcome(req.Cmd, in.InjectKey(action, code, req.MetaState))
}

func (d *Dispatcher) text(req *Request) (Response, error) {
	in, err := d.injector()
	if err != nil {
		return Response{}, err
	}
	s, err := need(req.Text, "text")
	if err != nil {
		return Response{}, err
	}
	d.deps.Tasks.Go("text", func() error { return in.InjectText(s) })
	return success(req.Cmd, true), nil
}

func (d *Dispatcher) clipboard() (types.Clipboard, error) {
	if d.deps.Clipboard == nil {
		return nil, fmt.Errorf("clipboard: %w", types.ErrUnsupported)
	}
	return d.deps.Clipboard, nil
}

func (d *Dispatcher) setClipboard(req *Request) (Response, error) {
	cb, err := d.clipboard()
	if err != nil {
		return Response{}, err
	}
	s, err := need(req.Text, "text")
	if err != nil {
		return Response{}, err
	}
	paste := req.Paste
	d.deps.Tasks.Go("set_clipboard", func() error {
		if cur, err := cb.GetText(); err != nil || cur != s {
			if err := cb.SetText(s); err != nil {
				return err
			}
		}
		if !paste {
			return nil
		}
		if d.gestures == nil {
			return fmt.Errorf("paste: %w", types.ErrUnsupported)
		}
		return d.gestures.CtrlCombo(input.KeyCodeV)
	})
	return success(req.Cmd, true), nil
}

func (d *Dispatcher) getClipboard(req *Request) (Response, error) {
	cb, err := d.clipboard()
	if err != nil {
		return Response{}, err
	}
	if req.Copy {
		if d.gestures == nil {
			return Response{}, fmt.Errorf("copy: %w", types.ErrUnsupported)
		}
		if err := d.gestures.CtrlCombo(input.KeyCodeC); err != nil {
			log.Printf("command: get_clipboard copy: %v", err)
		}
		d.sleep(d.deps.CopyDelay)
	}
	s, err := cb.GetText()
	if err != nil {
		return Response{}, err
	}
	return text(req.Cmd, s), nil
}

func (d *Dispatcher) tap(req *Request) (Response, error) {
	if _, err := d.injector(); err != nil {
		return Response{}, err
	}
	x, y, err := d.point("x", "y", req.X, req.Y)
	if err != nil {
		return Response{}, err
	}
	return outcome(req.Cmd, d.gestures.Tap(x, y))
}

func (d *Dispatcher) swipe(req *Request) (Response, error) {
	if _, err := d.injector(); err != nil {
		return Response{}, err
	}
	x1, y1, err := d.point("x1", "y1", req.X1, req.Y1)
	if err != nil {
		return Response{}, err
	}
	x2, y2, err := d.point("x2", "y2", req.X2, req.Y2)
	if err != nil {
		return Response{}, err
	}
	return outcome(req.Cmd, d.gestures.Swipe(x1, y1, x2, y2, duration(req.Duration)))
}

func (d *Dispatcher) longPress(req *Request) (Response, error) {
	if _, err := d.injector(); err != nil {
		return Response{}, err
	}
	x, y, err := d.point("x", "y", req.X, req.Y)
	if err != nil {
		return Response{}, err
	}
	return outcome(req.Cmd, d.gestures.LongPress(x, y, duration(req.Duration)))
}

func (d *Dispatcher) key(req *Request) (Response, error) {
	if _, err := d.injector(); err != nil {
		return Response{}, err
	}
	code, err := need(req.KeyCode, "keyCode")
	if err != nil {
		return Response{}, err
	}
	return outcome(req.Cmd, d.gestures.Key(code))
}

func (d *Dispatcher) diagnostics() (types.Diagnostics, error) {
	if d.deps.Diagnostics == nil {
		return nil, fmt.Errorf("diagnostics: %w", types.ErrUnsupported)
	}
	return d.deps.Diagnostics, nil
}

func (d *Dispatcher) hierarchy(req *Request) (Response, error) {
	diag, err := d.diagnostics()
	if err != nil {
		return Response{}, err
	}
	raw, err := diag.DumpHierarchy()
	if err != nil {
		return Response{}, err
	}
	return data(req.Cmd, raw), nil
}

func (d *Dispatcher) stats(req *Request) (Response, error) {
	diag, err := d.diagnostics()
	if err != nil {
		return Response{}, err
	}
	raw, err := diag.Stats()
	if err != nil {
		return Response{}, err
	}
	return data(req.Cmd, raw), nil
}

func (d *Dispatcher) setScreenPowerMode(req *Request) (Response, error) {
	mode, err := need(req.Mode, "mode")
	if err != nil {
		return Response{}, err
	}
	if d.deps.Power == nil {
		return Response{}, fmt.Errorf("display power: %w", types.ErrUnsupported)
	}
	return outcome(req.Cmd, d.deps.Power.SetDisplayPowerMode(mode))
}

func (d *Dispatcher) location() (types.LocationSpoofer, error) {
	if d.deps.Location == nil {
		return nil, fmt.Errorf("location: %w", types.ErrUnsupported)
	}
	return d.deps.Location, nil
}

func (d *Dispatcher) startMockLocation(req *Request) (Response, error) {
	loc, err := d.location()
	if err != nil {
		return Response{}, err
	}
	if err := loc.StartMocking(); err != nil {
		return Response{}, err
	}
	return success(req.Cmd, true), nil
}

func (d *Dispatcher) stopMockLocation(req *Request) (Response, error) {
	loc, err := d.location()
	if err != nil {
		return Response{}, err
	}
	if err := loc.StopMocking(); err != nil {
		return Response{}, err
	}
	return success(req.Cmd, true), nil
}

func (d *Dispatcher) setLocation(req *Request) (Response, error) {
	loc, err := d.location()
	if err != nil {
		return Response{}, err
	}
	lat, err := need(req.Lat, "lat")
	if err != nil {
		return Response{}, err
	}
	lon, err := need(req.Lon, "lon")
	if err != nil {
		return Response{}, err
	}
	fix := types.LocationFix{
		Lat:     lat,
		Lon:     lon,
		Alt:     req.Alt,
		Bearing: req.Bearing,
		Speed:   req.Speed,
		Time:    d.now(),
	}
	if err := loc.SetLocation(fix); err != nil {
		return Response{}, err
	}
	return success(req.Cmd, true), nil
}
