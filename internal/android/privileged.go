package android

import (
	"context"
	"fmt"
	"time"

	"nlmirror/internal/types"
)

// Display power modes accepted by set_screen_power_mode.
const (
	PowerModeOff    = 0
	PowerModeNormal = 2

	keyCodeSleep  = 223
	keyCodeWakeUp = 224
)

// Privileged is the elevated context available to the shell user. Display
// capture goes through screenrecord; there is no shell audio loopback.
type Privileged struct {
	*Recorder
	sh runner
}

func NewPrivileged(rec *Recorder, sh runner) *Privileged {
	return &Privileged{Recorder: rec, sh: sh}
}

func (p *Privileged) OpenAudioLoopback(sampleRate, channels int) (types.PCMSource, error) {
	return nil, fmt.Errorf("shell audio loopback: %w", types.ErrUnsupported)
}

// SetDisplayPowerMode maps off and normal onto the SLEEP and WAKEUP key
// events. The shell user cannot switch the panel alone, so mode 0 suspends
// the whole device and a capture in progress stops receiving frames until
// mode 2 wakes it.
func (p *Privileged) SetDisplayPowerMode(mode int) error {
	var key int
	switch mode {
	case PowerModeOff:
		key = keyCodeSleep
	case PowerModeNormal:
		key = keyCodeWakeUp
	default:
		return fmt.Errorf("display power mode %d: %w", mode, types.ErrUnsupported)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.sh.Run(ctx, fmt.Sprintf("input keyevent %d", key))
}
