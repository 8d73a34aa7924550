// Package bus carries the asynchronous compliance pipeline: Go channels
// for the community tier, NATS for pro.
package bus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smellreg/smellreg/internal/domain"
)

var (
	errNoTenant = errors.New("tenantID is required")
	errClosed   = errors.New("bus is closed")
)

// New creates an event bus from configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// checkTenant rejects tenant IDs that are empty or would change the shape
// of a NATS subject.
func checkTenant(tenantID string) error {
	if tenantID == "" {
		return errNoTenant
	}
	if strings.ContainsAny(tenantID, ".*> \t") {
		return fmt.Errorf("invalid tenantID %q", tenantID)
	}
	return nil
}
