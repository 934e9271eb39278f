package quota

import "time"

// WindowStatus is the outcome of classifying a record against the clock.
type WindowStatus int

const (
	// WindowExpired means the record's window has closed and its usage no
	// longer counts.
	WindowExpired WindowStatus = iota

	// WindowActive means the record's window is still open.
	WindowActive
)

// String implements fmt.Stringer.
func (s WindowStatus) String() string {
	if s == WindowActive {
		return "active"
	}
	return "expired"
}

// Window describes where a record stands within its counting window.
type Window struct {
	Status WindowStatus

	// Remaining is the time left until ResetTime. Zero when expired.
	Remaining time.Duration

	// ResetTime is WindowStart+duration of the classified record.
	ResetTime time.Time
}

// Active reports whether the window is still open.
func (w Window) Active() bool {
	return w.Status == WindowActive
}

// Classify is the single window policy shared by every read and write path.
// A record is expired once now reaches WindowStart+window. A nil record is
// classified as expired.
func Classify(record *Record, now time.Time, window time.Duration) Window {
	if record == nil {
		return Window{Status: WindowExpired}
	}

	reset := record.WindowStart.Add(window)
	if !now.Before(reset) {
		return Window{Status: WindowExpired, ResetTime: reset}
	}

	return Window{
		Status:    WindowActive,
		Remaining: reset.Sub(now),
		ResetTime: reset,
	}
}
