// Package transport defines the contract between inbound event sources and
// the bridge core.
package transport

import (
	"context"

	"github.com/erpbridge/erpbridge/pkg/model"
)

// Sink receives one decoded envelope. Transports call it for every inbound
// event; a non-nil error means the event was not accepted.
type Sink func(evt *model.Event) error

// Transport is an inbound event source with a managed lifecycle.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsConnected() bool
	Name() string
}
