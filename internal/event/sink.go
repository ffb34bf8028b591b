package event

import "context"

// Sink consumes batches of discovery events. Implementations must honor ctx
// deadlines and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Discovery) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// merge stage stays agnostic about buffering and persistence.
type Emitter interface {
	Emit(evt Discovery)
}
