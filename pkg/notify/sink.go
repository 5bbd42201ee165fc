package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Sink delivers a message to a target. Implementations must not panic on failure; they
// return an error (usually a *DeliveryError) instead.
type Sink interface {
	Send(ctx context.Context, target string, msg Message) error
}

// DeliveryError reports a failed delivery to a target.
type DeliveryError struct {
	Target     string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver to %s: status %d: %v", e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("deliver to %s: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Router sends to the sink registered for the target's "<prefix>:" and to Fallback
// otherwise. The prefix is stripped before delivery.
type Router struct {
	Routes   map[string]Sink
	Fallback Sink
}

func (r *Router) Send(ctx context.Context, target string, msg Message) error {
	if prefix, rest, ok := strings.Cut(target, ":"); ok {
		if sink, exists := r.Routes[prefix]; exists {
			msg.Payload.Topic = rest
			return sink.Send(ctx, rest, msg)
		}
	}
	if r.Fallback == nil {
		return &DeliveryError{Target: target, Err: fmt.Errorf("no sink for target")}
	}
	return r.Fallback.Send(ctx, target, msg)
}

// Notifier surfaces a short text to the local user.
type Notifier interface {
	Notice(msg string)
}

// WriterNotifier prints notices, one per line.
type WriterNotifier struct {
	W  io.Writer
	mu sync.Mutex
}

func (n *WriterNotifier) Notice(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.W, msg)
}
