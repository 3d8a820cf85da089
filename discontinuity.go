package roomkit

import "sync"

// discontinuityTracker latches, per contributor, the first error behind an
// outstanding message-stream discontinuity. The earliest disruption is the
// most informative, so later causes arriving before delivery are dropped.
type discontinuityTracker struct {
	mu      sync.Mutex
	pending map[Contributor]*ErrorInfo
	logger  Logger
}

func newDiscontinuityTracker(logger Logger) *discontinuityTracker {
	return &discontinuityTracker{
		pending: make(map[Contributor]*ErrorInfo),
		logger:  logger,
	}
}

// record stores the error for the contributor unless a discontinuity is
// already pending. First wins.
func (d *discontinuityTracker) record(contributor Contributor, reason *ErrorInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pending[contributor]; exists {
		d.logger.Debug("discontinuity already pending, keeping first cause", "reason", reason)
		return
	}
	d.pending[contributor] = reason
}

// flushIfAttached delivers each pending discontinuity to its contributor and
// clears the entry, returning what was delivered. Called after the room
// reaches attached, so features learn about gaps only once the stream is
// live again.
func (d *discontinuityTracker) flushIfAttached() map[Contributor]*ErrorInfo {
	d.mu.Lock()
	flushed := make(map[Contributor]*ErrorInfo, len(d.pending))
	for contributor, reason := range d.pending {
		flushed[contributor] = reason
		delete(d.pending, contributor)
	}
	d.mu.Unlock()

	for contributor, reason := range flushed {
		d.logger.Debug("delivering discontinuity", "reason", reason)
		contributor.DiscontinuityDetected(reason)
	}
	return flushed
}

// clear drops the contributor's pending entry without delivering it. Used
// for contributors that have never completed a first attach, where a lost
// resume carries no information.
func (d *discontinuityTracker) clear(contributor Contributor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, contributor)
}

// hasPending reports whether a discontinuity is latched for the contributor.
func (d *discontinuityTracker) hasPending(contributor Contributor) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.pending[contributor]
	return exists
}
