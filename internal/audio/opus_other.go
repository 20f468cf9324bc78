//go:build !linux

package audio

import (
	"fmt"

	"nlmirror/internal/types"
)

func newOpusCodec(int, int) (Codec, error) {
	return nil, fmt.Errorf("opus: %w", types.ErrUnsupported)
}
