package android

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"nlmirror/internal/types"
)

// lineRunner executes one shell line.
type lineRunner interface {
	Exec(line string) error
}

// Input injects events with the input tool. The tool has no separate key
// down and up, so a key down is held until its key up and sent as one
// keyevent, or as a keycombination when other keys are held.
type Input struct {
	sh lineRunner

	mu   sync.Mutex
	held []heldKey
}

type heldKey struct {
	code     int
	consumed bool
}

func NewInput(sh lineRunner) *Input { return &Input{sh: sh} }

func (in *Input) InjectTouch(action types.TouchAction, x, y float64) error {
	var verb string
	switch action {
	case types.TouchDown:
		verb = "DOWN"
	case types.TouchMove:
		verb = "MOVE"
	case types.TouchUp:
		verb = "UP"
	default:
		return fmt.Errorf("touch action %d: %w", action, types.ErrUnsupported)
	}
	return in.sh.Exec(fmt.Sprintf("input motionevent %s %d %d", verb, int(x+0.5), int(y+0.5)))
}

func (in *Input) InjectKey(action types.KeyAction, keyCode, metaState int) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	idx := -1
	for i, k := range in.held {
		if k.code == keyCode {
			idx = i
		}
	}
	switch action {
	case types.KeyDown:
		if idx < 0 {
			in.held = append(in.held, heldKey{code: keyCode})
		}
		return nil
	case types.KeyUp:
		var line string
		if idx >= 0 {
			k := in.held[idx]
			in.held = append(in.held[:idx], in.held[idx+1:]...)
			if k.consumed {
				return nil
			}
		}
		if len(in.held) > 0 {
			codes := make([]string, 0, len(in.held)+1)
			for i := range in.held {
				in.held[i].consumed = true
				codes = append(codes, strconv.Itoa(in.held[i].code))
			}
			codes = append(codes, strconv.Itoa(keyCode))
			line = "input keycombination " + strings.Join(codes, " ")
		} else {
			line = "input keyevent " + strconv.Itoa(keyCode)
		}
		return in.sh.Exec(line)
	}
	return fmt.Errorf("key action %d: %w", action, types.ErrUnsupported)
}

// KeyCodeEnter separates lines of injected text.
const KeyCodeEnter = 66

// InjectText types text with input text, which takes %s for spaces.
// Newlines are sent as Enter.
func (in *Input) InjectText(text string) error {
	var errs []error
	for i, part := range strings.Split(text, "\n") {
		if i > 0 {
			errs = append(errs, in.sh.Exec("input keyevent "+strconv.Itoa(KeyCodeEnter)))
		}
		if part == "" {
			continue
		}
		arg := strings.ReplaceAll(part, "%", `\%`)
		arg = strings.ReplaceAll(arg, " ", "%s")
		errs = append(errs, in.sh.Exec("input text "+quote(arg)))
	}
	return errors.Join(errs...)
}
