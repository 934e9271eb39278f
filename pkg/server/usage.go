package server

import (
	"net/http"
	"time"

	"mercator-hq/tollgate/pkg/quota"
)

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	// Label is the username, or "guest".
	Label         string    `json:"label"`
	LoggedIn      bool      `json:"logged_in"`
	Used          int64     `json:"used"`
	Limit         int64     `json:"limit"`
	Remaining     int64     `json:"remaining"`
	ResetTime     time.Time `json:"reset_time"`
	WindowSeconds int64     `json:"window_seconds"`
}

// usageHandler reports the caller's usage without charging it.
func usageHandler(engine *quota.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := resolutionFrom(r.Context())
		decision := engine.Usage(r.Context(), res.Identity)

		writeJSON(w, http.StatusOK, UsageResponse{
			Label:         res.Label,
			LoggedIn:      res.Authenticated,
			Used:          decision.Used,
			Limit:         decision.Limit,
			Remaining:     decision.Remaining(),
			ResetTime:     decision.ResetTime.UTC(),
			WindowSeconds: int64(engine.Limits().Window / time.Second),
		})
	}
}
