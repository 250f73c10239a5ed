package cmd

import (
	"log/slog"
	"time"

	"github.com/heraldflow/herald/pkg/dispatch"
)

// NewDispatcher selects the delivery backend. An empty gateway URL wires the
// log dispatcher, which only records notifications; useful for development
// and dry runs.
func NewDispatcher(gatewayURL string, timeout time.Duration, logger *slog.Logger) dispatch.Dispatcher {
	if gatewayURL == "" {
		return dispatch.NewLogDispatcher(logger)
	}

	return dispatch.NewGatewayDispatcher(gatewayURL, timeout, logger)
}
