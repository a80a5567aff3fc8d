package llm

import "context"

// sendEvent relays one mid-stream event. The producer suspends while the
// consumer has not pulled; a false return means the context ended first.
func sendEvent(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendTerminal delivers the single finished or error event that closes a
// stream. A slow consumer is waited for; only after cancellation does the
// send fall back to a non-blocking attempt, since the consumer may already
// be gone.
func sendTerminal(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) {
	select {
	case ch <- ev:
	case <-ctx.Done():
		select {
		case ch <- ev:
		default:
		}
	}
}
