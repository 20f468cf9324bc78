//go:build !linux

package audio

import (
	"fmt"

	"nlmirror/internal/types"
)

func Pulse(appName string) Strategy {
	return Strategy{
		Name: "pulse",
		Open: func(int, int) (types.PCMSource, error) {
			return nil, fmt.Errorf("pulse: %w", types.ErrUnsupported)
		},
	}
}
