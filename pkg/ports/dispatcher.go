package ports

import (
	"context"

	"github.com/aretw0/flowbot/pkg/domain"
)

// Dispatcher issues the outbound request of a session parked on a webservice node.
// It runs after the turn is committed, so a failure never rolls the session back;
// the webservice is expected to call back with the correlation key.
type Dispatcher interface {
	Dispatch(ctx context.Context, call domain.WebserviceCall) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, call domain.WebserviceCall) error

func (f DispatcherFunc) Dispatch(ctx context.Context, call domain.WebserviceCall) error {
	return f(ctx, call)
}
