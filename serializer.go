package roomkit

import "context"

// opSerializer ensures attach and detach orchestration bodies run
// exclusively. It is a context-aware mutex: acquisition can be abandoned
// when the caller's context is cancelled. Fast-path short-circuits in the
// public entry points run before acquisition so trivial outcomes never
// queue behind a running orchestration.
type opSerializer struct {
	slot chan struct{}
}

func newOpSerializer() *opSerializer {
	return &opSerializer{slot: make(chan struct{}, 1)}
}

// runExclusive runs work while holding the operation slot. It returns the
// context error if cancellation wins the acquisition race.
func (s *opSerializer) runExclusive(ctx context.Context, work func() error) error {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()
	return work()
}
