package event

import "context"

// Listener receives notifications. Implementations may be remote, in which
// case Report returns the transport error.
type Listener interface {
	Report(ctx context.Context, n Notification) error
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ctx context.Context, n Notification) error

func (f ListenerFunc) Report(ctx context.Context, n Notification) error { return f(ctx, n) }

// Discard drops every notification.
var Discard Listener = ListenerFunc(func(context.Context, Notification) error { return nil })
