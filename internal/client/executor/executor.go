// Package executor runs cashier operations online-first: try the central
// server, and only when the network itself is down fall back to the local
// store plus sync queue. Application rejections (validation, conflicts,
// auth) never fall back; writing a sale the server just refused into the
// queue would only replay the same rejection later.
package executor

import (
	"context"
	"log/slog"

	"temanngopi/pos/internal/client/api"
	"temanngopi/pos/internal/client/netmon"
)

type Path int

const (
	PathOnline Path = iota
	PathOffline
)

func (p Path) String() string {
	if p == PathOnline {
		return "online"
	}
	return "offline"
}

// Outcome is the result of a dual-path operation. Callers inspect Path
// instead of sniffing error types to learn how the operation landed.
type Outcome[T any] struct {
	Value T
	Path  Path
}

// Spec describes one dual-path operation.
type Spec[T any] struct {
	// Online performs the server round trip.
	Online func(ctx context.Context) (T, error)
	// OnSuccess persists the server's response locally. Optional; errors
	// are logged, not returned, because the server already committed.
	OnSuccess func(ctx context.Context, value T) error
	// Offline performs the local write plus queue enqueue.
	Offline func(ctx context.Context) (T, error)
}

// Run executes the spec. The monitor's current state short-circuits the
// server round trip when the link is already known dead; otherwise a network
// failure flips the monitor and falls back in the same call.
func Run[T any](ctx context.Context, monitor *netmon.Monitor, logger *slog.Logger, spec Spec[T]) (Outcome[T], error) {
	if logger == nil {
		logger = slog.Default()
	}

	if monitor.Online() {
		value, err := spec.Online(ctx)
		if err == nil {
			monitor.SetOnline(true)
			if spec.OnSuccess != nil {
				if err := spec.OnSuccess(ctx, value); err != nil {
					logger.Warn("local mirror write failed after server commit", "error", err)
				}
			}
			return Outcome[T]{Value: value, Path: PathOnline}, nil
		}
		if !api.IsNetwork(err) {
			// The server answered and said no. Surface it.
			return Outcome[T]{}, err
		}
		monitor.SetOnline(false)
		logger.Info("server unreachable, falling back to local store")
	}

	value, err := spec.Offline(ctx)
	if err != nil {
		return Outcome[T]{}, err
	}
	return Outcome[T]{Value: value, Path: PathOffline}, nil
}
