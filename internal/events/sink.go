package events

import "context"

// Sink consumes batches of delivery events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// broadcaster stays agnostic about how events are buffered or exported.
type Emitter interface {
	Emit(evt Event)
}
