// Package health implements the liveness and readiness probes the
// export service exposes, including broker connectivity and the queue
// facade's own state.
package health

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single readiness sweep.
const DefaultTimeout = 5 * time.Second

// Status is the reported state of one checked component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Result is the outcome of one check. Message carries detail only when
// there is something to say, such as a degraded-mode note.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Checker probes one component.
type Checker interface {
	// Name identifies the component in the readiness response.
	Name() string
	// Check probes the component within the context deadline.
	Check(ctx context.Context) Result
}
