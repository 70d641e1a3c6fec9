package events

import (
	"context"
	"sync"

	"github.com/vstore/vstore/common/logger"
)

// Topic names published by the framework.
const (
	TopicUploadBegin             = "upload.begin"
	TopicUploadProgress          = "upload.progress"
	TopicUploadDone              = "upload.done"
	TopicUploadFailed            = "upload.failed"
	TopicUploadFailedPermanently = "upload.failed_permanently"
	TopicUploadFailedCompletely  = "upload.failed_completely"
	TopicUploadDoneCompletely    = "upload.done_completely"
	TopicAllUploadsDone          = "upload.all_done"

	TopicDownloadStart       = "download.start"
	TopicDownloadProgress    = "download.progress"
	TopicDownloadedFileReady = "download.file_ready"
	TopicDownloadFailed      = "download.failed"

	TopicMetadataReady  = "metadata.ready"
	TopicMetadataFailed = "metadata.failed"

	TopicMatchingStarted     = "matching.started"
	TopicMatchingNodeDecided = "matching.node_decided"
	TopicMatchingRuleUsed    = "matching.rule_used"

	TopicFileDeleted = "file.deleted"
)

// Bus delivers framework events to subscribers
type Bus interface {
	Publish(ctx context.Context, topic string, event any) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Handler processes a single event
type Handler func(ctx context.Context, event any) error

// Envelope carries an event through a topic channel
type Envelope struct {
	Topic string
	Event any
}

// MemoryBus is an in-process event bus backed by buffered channels
type MemoryBus struct {
	topics map[string]chan *Envelope
	mu     sync.RWMutex
	log    *logger.Logger
}

// NewMemoryBus creates a new in-process bus
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]chan *Envelope),
		log:    log,
	}
}

// Publish publishes an event to a topic
func (b *MemoryBus) Publish(ctx context.Context, topic string, event any) error {
	b.mu.Lock()
	ch, exists := b.topics[topic]
	if !exists {
		ch = make(chan *Envelope, 1000)
		b.topics[topic] = ch
	}
	b.mu.Unlock()

	env := &Envelope{Topic: topic, Event: event}

	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Channel full, drop and warn
		b.log.Warn("event bus full", "topic", topic)
		return nil
	}
}

// Subscribe subscribes to a topic and processes events until ctx is cancelled
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	ch, exists := b.topics[topic]
	if !exists {
		ch = make(chan *Envelope, 1000)
		b.topics[topic] = ch
	}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, env.Event); err != nil {
					b.log.Error("event handler error", "topic", topic, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close closes all topic channels
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, ch := range b.topics {
		close(ch)
		delete(b.topics, topic)
	}

	return nil
}
