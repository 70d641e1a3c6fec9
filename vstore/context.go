package vstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/vstore/vstore/common/kv"
	"github.com/vstore/vstore/common/models"
)

const contextKey = "context:current"

// ContextProvider holds the current usage context. The context lives in
// memory and is attached to every stored file; persisting it is an explicit
// choice so a stale context from a previous session is never used silently.
type ContextProvider struct {
	mu      sync.RWMutex
	current *models.ContextDescription
	store   kv.Store
}

func NewContextProvider(store kv.Store) *ContextProvider {
	return &ContextProvider{store: store}
}

// Provide replaces the current usage context.
func (p *ContextProvider) Provide(c *models.ContextDescription) {
	p.mu.Lock()
	p.current = c
	p.mu.Unlock()
}

// Current returns the usage context in effect, or nil when none was
// provided or persisted.
func (p *ContextProvider) Current(ctx context.Context) *models.ContextDescription {
	p.mu.RLock()
	c := p.current
	p.mu.RUnlock()
	if c != nil {
		return c
	}

	raw, err := p.store.Get(ctx, contextKey)
	if err != nil {
		return nil
	}
	var persisted models.ContextDescription
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		return nil
	}
	p.mu.Lock()
	p.current = &persisted
	p.mu.Unlock()
	return &persisted
}

// Persist saves the current context so the next session starts with it.
func (p *ContextProvider) Persist(ctx context.Context) error {
	p.mu.RLock()
	c := p.current
	p.mu.RUnlock()
	if c == nil {
		return p.clearPersisted(ctx)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, contextKey, string(raw))
}

// Clear drops the current context, in memory and persisted.
func (p *ContextProvider) Clear(ctx context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	return p.clearPersisted(ctx)
}

func (p *ContextProvider) clearPersisted(ctx context.Context) error {
	err := p.store.Delete(ctx, contextKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}
