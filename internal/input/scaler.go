package input

import "sync"

// Scaler maps viewer coordinates (encoder pixels) to device coordinates.
// It is reconfigured on every pipeline start.
type Scaler struct {
	mu     sync.RWMutex
	scaleX float64
	scaleY float64
}

func NewScaler() *Scaler {
	return &Scaler{scaleX: 1, scaleY: 1}
}

func (s *Scaler) Configure(deviceW, deviceH, encoderW, encoderH int) {
	if encoderW <= 0 || encoderH <= 0 {
		return
	}
	s.mu.Lock()
	s.scaleX = float64(deviceW) / float64(encoderW)
	s.scaleY = float64(deviceH) / float64(encoderH)
	s.mu.Unlock()
}

func (s *Scaler) Transform(x, y float64) (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return x * s.scaleX, y * s.scaleY
}
