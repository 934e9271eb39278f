package quota

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultWindow is the counting window used when none is configured.
	DefaultWindow = 24 * time.Hour

	// DefaultGuestMaxRequests is the default guest ceiling per window.
	DefaultGuestMaxRequests = 5

	// DefaultUserMaxRequests is the default user ceiling per window.
	DefaultUserMaxRequests = 50

	// minLimit is the smallest ceiling Normalize allows.
	minLimit = 1
)

// Mode selects how the gate protects the check-then-increment sequence.
type Mode string

const (
	// ModeOptimistic evaluates before the protected operation and commits
	// after it succeeded. Concurrent requests may over-admit.
	ModeOptimistic Mode = "optimistic"

	// ModeStrict reserves a unit atomically before the protected operation
	// and releases it if the operation fails.
	ModeStrict Mode = "strict"
)

// ParseMode converts a string into a Mode. The empty string is optimistic.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeOptimistic:
		return ModeOptimistic, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown quota mode %q (expected %q or %q)", s, ModeOptimistic, ModeStrict)
	}
}

// Limits is the configured quota policy. It is passed explicitly to every
// evaluation so reconciliation never depends on ambient process state.
type Limits struct {
	// Window is the duration of one counting window.
	Window time.Duration

	// GuestMaxRequests is the per-window ceiling for guests.
	GuestMaxRequests int64

	// UserMaxRequests is the per-window ceiling for users.
	UserMaxRequests int64
}

// DefaultLimits returns the built-in policy.
func DefaultLimits() Limits {
	return Limits{
		Window:           DefaultWindow,
		GuestMaxRequests: DefaultGuestMaxRequests,
		UserMaxRequests:  DefaultUserMaxRequests,
	}
}

// For returns the configured ceiling for a namespace.
func (l Limits) For(ns Namespace) int64 {
	if ns == NamespaceUser {
		return l.UserMaxRequests
	}
	return l.GuestMaxRequests
}

// Normalize clamps values that would lock every identity out. Each clamp is
// logged as a configuration warning. A nil logger disables logging.
func (l Limits) Normalize(logger *slog.Logger) Limits {
	warn := func(msg string, args ...any) {
		if logger != nil {
			logger.Warn(msg, args...)
		}
	}

	if l.Window <= 0 {
		warn("non-positive quota window, using default",
			"configured", l.Window.String(),
			"default", DefaultWindow.String(),
		)
		l.Window = DefaultWindow
	}
	if l.GuestMaxRequests < minLimit {
		warn("guest max requests below minimum, clamping",
			"configured", l.GuestMaxRequests,
			"clamped_to", minLimit,
		)
		l.GuestMaxRequests = minLimit
	}
	if l.UserMaxRequests < minLimit {
		warn("user max requests below minimum, clamping",
			"configured", l.UserMaxRequests,
			"clamped_to", minLimit,
		)
		l.UserMaxRequests = minLimit
	}
	return l
}

// Decision is the answer to "may this identity proceed right now".
type Decision struct {
	// Allowed reports whether one more unit may be consumed.
	Allowed bool

	// Used is the number of units consumed in the current window.
	Used int64

	// Limit is the ceiling in effect for the identity.
	Limit int64

	// ResetTime is when the current window closes.
	ResetTime time.Time

	// FailedOpen is set when the store could not be read and the decision
	// was admitted without consulting it.
	FailedOpen bool
}

// Remaining returns how many units are left in the window, never negative.
func (d Decision) Remaining() int64 {
	if d.Used >= d.Limit {
		return 0
	}
	return d.Limit - d.Used
}

// RetryAfter returns how long a denied caller has to wait, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetTime.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
