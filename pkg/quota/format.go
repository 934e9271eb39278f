package quota

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatWait renders a wait duration for "try again in ..." messages, e.g.
// "3 hours" or "45 seconds".
func FormatWait(d time.Duration) string {
	if d < time.Second {
		return "a moment"
	}

	base := time.Unix(0, 0)
	s := strings.TrimSpace(humanize.RelTime(base, base.Add(d), "", ""))
	if s == "" || s == "now" {
		return "a moment"
	}
	return s
}
