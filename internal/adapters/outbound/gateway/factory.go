package gateway

import (
	"log/slog"

	"github.com/luminamt5/executor/internal/ports/outbound"
)

// Mode holds the two independent switches that must agree before orders go
// to a live terminal.
type Mode struct {
	DryRun      bool
	LiveEnabled bool
}

// Live reports whether both switches permit live execution.
func (m Mode) Live() bool {
	return !m.DryRun && m.LiveEnabled
}

// New returns the live gateway only when mode permits it and falls back to
// dry-run otherwise. terminal is only used for the live gateway.
func New(mode Mode, terminal outbound.Terminal, creds Credentials, logger *slog.Logger) (outbound.ExecutionGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !mode.Live() {
		if !mode.DryRun {
			logger.Warn("live trading requested but LIVE_TRADING_ENABLED is not set, using dry-run gateway")
		}
		return NewDryRun(logger), nil
	}
	return NewLive(terminal, creds, logger)
}
