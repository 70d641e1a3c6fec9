package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstore/vstore/common/logger"
)

func TestMemoryBusDeliversToSubscriber(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan any, 1)
	require.NoError(t, bus.Subscribe(ctx, TopicUploadDone, func(_ context.Context, event any) error {
		got <- event
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, TopicUploadDone, UploadDone{FileID: "f1"}))

	select {
	case event := <-got:
		done, ok := event.(UploadDone)
		require.True(t, ok)
		assert.Equal(t, "f1", done.FileID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryBusTopicsAreIndependent(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var uploads atomic.Int32
	require.NoError(t, bus.Subscribe(ctx, TopicUploadDone, func(context.Context, any) error {
		uploads.Add(1)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, TopicDownloadFailed, DownloadFailed{FileID: "f1"}))
	require.NoError(t, bus.Publish(ctx, TopicUploadDone, UploadDone{FileID: "f1"}))

	require.Eventually(t, func() bool {
		return uploads.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMemoryBusPublishBeforeSubscribeIsBuffered(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Publish(ctx, TopicFileDeleted, FileDeleted{FileID: "f1"}))

	got := make(chan any, 1)
	require.NoError(t, bus.Subscribe(ctx, TopicFileDeleted, func(_ context.Context, event any) error {
		got <- event
		return nil
	}))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("buffered event not delivered")
	}
}

func TestMemoryBusDropsWhenFull(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	ctx := context.Background()
	// No subscriber drains the topic, so the buffer eventually fills.
	// Publish must not block or error even then.
	for i := 0; i < 1100; i++ {
		require.NoError(t, bus.Publish(ctx, TopicUploadProgress, UploadProgress{FileID: "f1"}))
	}
}

func TestMemoryBusSubscriberStopsOnCancel(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var count atomic.Int32
	require.NoError(t, bus.Subscribe(ctx, TopicUploadDone, func(context.Context, any) error {
		count.Add(1)
		return nil
	}))
	cancel()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), TopicUploadDone, UploadDone{FileID: "f1"}))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, count.Load())
}
