package steward

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Middleware returns an http.Handler that runs each request through
// the gate before passing to the next handler. GET, HEAD, and OPTIONS
// are submitted as read-only actions; everything else as writes.
// Blocked requests receive a 403 with a JSON body; throttled requests
// a 429 with a Retry-After header.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := c.Check(r.Context(), actionFromRequest(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if res.Cleared() {
			next.ServeHTTP(w, r)
			return
		}

		status := http.StatusForbidden
		if res.Decision == Throttled {
			status = http.StatusTooManyRequests
			if !res.RetryAt.IsZero() {
				w.Header().Set("Retry-After", res.RetryAt.UTC().Format(time.RFC1123))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"blocked":      true,
			"decision":     string(res.Decision),
			"reason":       res.Reason,
			"execution_id": res.ExecutionID,
			"plan_hash":    res.PlanHash,
		})
	})
}

// actionFromRequest maps an HTTP request to an SDK Action.
func actionFromRequest(r *http.Request) Action {
	resource := r.URL.String()
	if r.URL.Host == "" && r.Host != "" {
		resource = r.Host + r.URL.RequestURI()
	}
	command := strings.ToLower(r.Method) + " " + resource

	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return Action{
			Command: command,
			Steps:   []Step{{Action: "http_" + strings.ToLower(r.Method), ReadOnly: true}},
		}
	default:
		return Action{
			Command: command,
			Steps:   []Step{{Action: "http_" + strings.ToLower(r.Method)}},
		}
	}
}
