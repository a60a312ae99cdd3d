package main

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

func TestForwardTo_DeliversMessages(t *testing.T) {
	ch := make(chan jetstream.Msg, 1)
	handler := forwardTo(context.Background(), ch)

	handler(nil)
	assert.Len(t, ch, 1)
}

func TestForwardTo_ReturnsOnceWatcherStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// unbuffered and never read, as after watchProgress returns
	handler := forwardTo(ctx, make(chan jetstream.Msg))

	done := make(chan struct{})
	go func() {
		handler(nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler still blocked after cancel")
	}
}
