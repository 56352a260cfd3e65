package bus

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbase/engine/internal/retry"
)

func newTestClient() *Client {
	c := &Client{
		backoff:    retry.DefaultExponentialBackoff(),
		maxDeliver: defaultMaxDeliver,
		logger:     zerolog.Nop(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

func TestCloseCancelsHandlerContext(t *testing.T) {
	c := newTestClient()

	seen := make(chan context.Context, 1)
	handler := func(ctx context.Context, data []byte) error {
		seen <- ctx
		return nil
	}

	c.dispatch(SchedulerQueue, handler, &nats.Msg{Data: []byte(`{}`)})

	ctx := <-seen
	require.NoError(t, ctx.Err())

	// A handler still holding the context sees shutdown after Close.
	c.Close()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
