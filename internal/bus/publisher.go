package bus

import "context"

// Publisher is the narrow publish-side contract consumed by the scheduler
// and the executor; *Client implements it.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload interface{}) error
}
