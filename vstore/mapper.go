package vstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vstore/vstore/common/kv"
)

const mappingPrefix = "mapping:"

// FileNodeMapper is the persisted cache of which nodes hold which file. It
// saves a master round trip on downloads and survives restarts.
type FileNodeMapper struct {
	store kv.Store
}

func NewFileNodeMapper(store kv.Store) *FileNodeMapper {
	return &FileNodeMapper{store: store}
}

// Get returns the cached node ids for the file, or an empty slice when the
// mapping is unknown.
func (m *FileNodeMapper) Get(ctx context.Context, fileID string) ([]string, error) {
	raw, err := m.store.Get(ctx, mappingPrefix+fileID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("corrupt mapping for %s: %w", fileID, err)
	}
	return ids, nil
}

// Store replaces the mapping for the file.
func (m *FileNodeMapper) Store(ctx context.Context, fileID string, nodeIDs []string) error {
	raw, err := json.Marshal(nodeIDs)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, mappingPrefix+fileID, string(raw))
}

// Add appends a node to the file's mapping if it is not recorded yet.
func (m *FileNodeMapper) Add(ctx context.Context, fileID, nodeID string) error {
	ids, err := m.Get(ctx, fileID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == nodeID {
			return nil
		}
	}
	return m.Store(ctx, fileID, append(ids, nodeID))
}

// Remove drops the file's mapping entirely.
func (m *FileNodeMapper) Remove(ctx context.Context, fileID string) error {
	err := m.store.Delete(ctx, mappingPrefix+fileID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}

// Clear drops all cached mappings, used when the node topology changes and
// cached locations can no longer be trusted.
func (m *FileNodeMapper) Clear(ctx context.Context) error {
	keys, err := m.store.Keys(ctx, mappingPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.store.Delete(ctx, k); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
	}
	return nil
}
