package transfer

import (
	"context"
	"os"

	"github.com/vstore/vstore/common/config"
	"github.com/vstore/vstore/common/events"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

// Deleter removes files marked for deletion from every node that holds
// them. A node that no longer knows the file counts as deleted, so retries
// after partial failures converge.
type Deleter struct {
	files    FileStore
	nodes    NodeSource
	cache    MappingCache
	master   MappingSource
	mappings MappingSink
	dial     NodeDialer
	bus      events.Bus
	cfg      config.TransferConfig
	deviceID string
	log      *logger.Logger
}

func NewDeleter(files FileStore, nodes NodeSource, cache MappingCache, master MappingSource,
	mappings MappingSink, dial NodeDialer, bus events.Bus, cfg config.TransferConfig,
	deviceID string, log *logger.Logger) *Deleter {
	return &Deleter{
		files:    files,
		nodes:    nodes,
		cache:    cache,
		master:   master,
		mappings: mappings,
		dial:     dial,
		bus:      bus,
		cfg:      cfg,
		deviceID: deviceID,
		log:      log,
	}
}

// ProcessPending walks every file marked delete-pending and tries to finish
// its deletion. Files whose nodes are unreachable stay pending for the next
// run.
func (d *Deleter) ProcessPending(ctx context.Context) error {
	pending, err := d.files.ListDeletePending(ctx)
	if err != nil {
		return err
	}
	for _, f := range pending {
		if err := d.Delete(ctx, f); err != nil {
			d.log.Warn("deletion still pending", "file_id", f.ID, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// Delete removes the file from all its nodes, then from the master
// mapping, the local cache and the local store. It only succeeds when every
// node confirmed the removal.
func (d *Deleter) Delete(ctx context.Context, f *models.StoredFile) error {
	nodeIDs := f.NodeIDs
	if len(nodeIDs) == 0 {
		if ids, err := d.cache.Get(ctx, f.ID); err == nil {
			nodeIDs = ids
		}
	}
	if len(nodeIDs) == 0 {
		if ids, err := d.master.GetFileNodeMapping(ctx, f.ID); err == nil {
			nodeIDs = ids
		}
	}

	for _, nodeID := range nodeIDs {
		n := d.nodes.GetNode(nodeID)
		if n == nil {
			// An unknown node cannot be asked, treat the copy as gone.
			d.log.Warn("node holding file unknown", "file_id", f.ID, "node_id", nodeID)
			continue
		}
		if err := d.dial(n.BaseURI()).Delete(ctx, f.ID, d.deviceID); err != nil {
			return err
		}
	}

	if err := d.mappings.DeleteFileNodeMapping(ctx, f.ID); err != nil {
		return err
	}
	if err := d.cache.Remove(ctx, f.ID); err != nil {
		d.log.Warn("clearing mapping cache failed", "file_id", f.ID, "error", err)
	}
	if f.Path != "" {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			d.log.Warn("removing local copy failed", "path", f.Path, "error", err)
		}
	}
	if err := d.files.Delete(ctx, f.ID); err != nil {
		return err
	}

	if err := d.bus.Publish(ctx, events.TopicFileDeleted, events.FileDeleted{FileID: f.ID}); err != nil {
		d.log.Warn("event publish failed", "topic", events.TopicFileDeleted, "error", err)
	}
	d.log.Info("file deleted", "file_id", f.ID)
	return nil
}
