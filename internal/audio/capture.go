// Package audio captures device audio through an ordered list of capture
// strategies and streams it to a viewer.
package audio

import (
	"errors"
	"fmt"
	"log"

	"nlmirror/internal/types"
)

// ErrNoCapture is returned when every capture strategy failed. The joined
// per-strategy errors are wrapped with it.
var ErrNoCapture = errors.New("no audio capture path available")

const (
	SampleRate = 48000
	Channels   = 2
)

// Strategy is one way of obtaining a PCM source.
type Strategy struct {
	Name string
	Open func(sampleRate, channels int) (types.PCMSource, error)
}

// Privileged captures through the device's policy-based loopback, which
// needs an elevated context.
func Privileged(pc types.PrivilegedContext) Strategy {
	return Strategy{
		Name: "privileged",
		Open: func(rate, ch int) (types.PCMSource, error) {
			if pc == nil {
				return nil, fmt.Errorf("no privileged context: %w", types.ErrUnsupported)
			}
			return pc.OpenAudioLoopback(rate, ch)
		},
	}
}

// OpenFirst tries each strategy in order and returns the first source that
// opens along with the strategy name.
func OpenFirst(strategies []Strategy, rate, ch int) (types.PCMSource, string, error) {
	var errs []error
	for _, s := range strategies {
		src, err := s.Open(rate, ch)
		if err == nil {
			log.Printf("audio: capturing via %s", s.Name)
			return src, s.Name, nil
		}
		log.Printf("audio: %s capture unavailable: %v", s.Name, err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	return nil, "", fmt.Errorf("%w: %w", ErrNoCapture, errors.Join(errs...))
}
