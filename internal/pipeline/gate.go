package pipeline

import "context"

// Gate admits one capture/encoder holder at a time. Pipelines of the same
// device share a Gate; a pipeline holds it from the first configuration
// attempt until its encoder is released.
type Gate struct {
	slot chan struct{}
}

func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the gate is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Release() {
	select {
	case <-g.slot:
	default:
	}
}

// Held reports whether some pipeline currently owns the gate.
func (g *Gate) Held() bool { return len(g.slot) == 1 }
