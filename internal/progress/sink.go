package progress

import "context"

// Sink consumes batches of events. Implementations must tolerate being
// called from the hub's single background goroutine.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
