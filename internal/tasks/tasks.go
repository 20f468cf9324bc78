// Package tasks runs side-effecting commands whose completion the caller
// does not wait for.
package tasks

import (
	"expvar"
	"fmt"
	"log"
	"sync"
)

var (
	evStarted = expvar.NewInt("tasks_started")
	evFailed  = expvar.NewInt("tasks_failed")
)

// Runner launches named functions on their own goroutines. Failures and
// panics are logged and kept so they can be inspected later.
type Runner struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	lastErr error
	failed  int
}

func NewRunner() *Runner { return &Runner{} }

// Go runs fn asynchronously.
func (r *Runner) Go(name string, fn func() error) {
	evStarted.Add(1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
			if err != nil {
				r.record(name, err)
			}
		}()
		err = fn()
	}()
}

func (r *Runner) record(name string, err error) {
	evFailed.Add(1)
	log.Printf("task %s: %v", name, err)
	r.mu.Lock()
	r.lastErr = fmt.Errorf("%s: %w", name, err)
	r.failed++
	r.mu.Unlock()
}

// Wait blocks until every task launched so far has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// LastError returns the most recent task failure.
func (r *Runner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Failed returns how many tasks have failed.
func (r *Runner) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}
