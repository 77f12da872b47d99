package health

import (
	"context"
	"net/http"
	"time"

	"ms-seating/internal/utils"
)

// Pinger is any dependency that can report whether it is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type Checker struct {
	Deps    map[string]Pinger
	Timeout time.Duration
}

func NewChecker(deps map[string]Pinger) *Checker {
	return &Checker{Deps: deps, Timeout: 2 * time.Second}
}

// ServeHTTP answers 200 when every dependency responds and 503 otherwise,
// listing the state of each one.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.Timeout)
	defer cancel()

	status := make(map[string]string, len(c.Deps))
	healthy := true
	for name, dep := range c.Deps {
		if err := dep.PingContext(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Service degraded", "UNHEALTHY", "", status))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Service healthy", status))
}
