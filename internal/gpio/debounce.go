package gpio

import "time"

// debouncer tracks the stable level of one button.
type debouncer struct {
	duration time.Duration

	// Current stable (debounced) level
	stable bool
	// Level being observed during debounce
	pending    bool
	hasPending bool
	// Time when pending level was first observed
	pendingSince time.Time
	// Whether we have established a baseline
	baselined bool
}

// update feeds one sample and reports whether the stable level changed.
// The first stable level only establishes the baseline and is not a change,
// so a button held at startup never reads as a fresh press.
func (d *debouncer) update(level bool, now time.Time) bool {
	if !d.baselined {
		if !d.hasPending || d.pending != level {
			// Start observing, or level changed during baseline: restart
			d.pending = level
			d.hasPending = true
			d.pendingSince = now
			return false
		}
		if now.Sub(d.pendingSince) >= d.duration {
			d.stable = level
			d.baselined = true
			d.hasPending = false
		}
		return false
	}

	if level == d.stable {
		// Bounce back to stable, clear any pending
		d.hasPending = false
		return false
	}

	if !d.hasPending || d.pending != level {
		d.pending = level
		d.hasPending = true
		d.pendingSince = now
		return false
	}

	if now.Sub(d.pendingSince) >= d.duration {
		d.stable = level
		d.hasPending = false
		return true
	}
	return false
}
