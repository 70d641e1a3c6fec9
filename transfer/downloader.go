package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vstore/vstore/common/clients"
	"github.com/vstore/vstore/common/config"
	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/events"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
	"github.com/vstore/vstore/node"
)

// MappingCache is the locally persisted file-to-nodes mapping.
type MappingCache interface {
	Get(ctx context.Context, fileID string) ([]string, error)
	Store(ctx context.Context, fileID string, nodeIDs []string) error
	Remove(ctx context.Context, fileID string) error
}

// MappingSource answers which nodes hold a file when the local cache does
// not know, normally backed by the master node.
type MappingSource interface {
	GetFileNodeMapping(ctx context.Context, fileID string) ([]string, error)
}

// ErrDownloadInProgress is returned when the file is already being fetched.
var ErrDownloadInProgress = errors.New("transfer: download already in progress")

// Downloader fetches files from storage nodes. Candidate nodes are tried in
// ascending distance-metric order, so a cloudlet is preferred over the
// cloud. Metadata is always fetched first, within a bounded timeout, to
// learn the file's extension before the blob is pulled.
type Downloader struct {
	nodes    NodeSource
	cache    MappingCache
	master   MappingSource
	dial     NodeDialer
	guard    *Guard
	bus      events.Bus
	cfg      config.TransferConfig
	deviceID string
	dir      string
	log      *logger.Logger
}

func NewDownloader(nodes NodeSource, cache MappingCache, master MappingSource, dial NodeDialer,
	guard *Guard, bus events.Bus, cfg config.TransferConfig, deviceID, dir string, log *logger.Logger) *Downloader {
	return &Downloader{
		nodes:    nodes,
		cache:    cache,
		master:   master,
		dial:     dial,
		guard:    guard,
		bus:      bus,
		cfg:      cfg,
		deviceID: deviceID,
		dir:      dir,
		log:      log,
	}
}

// ByMetric downloads the file from the best reachable node that holds it
// and returns the local path of the downloaded copy.
func (d *Downloader) ByMetric(ctx context.Context, fileID string) (string, error) {
	acquired, err := d.guard.Acquire(ctx, fileID)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", ErrDownloadInProgress
	}
	defer d.release(fileID)

	candidates, err := d.candidateNodes(ctx, fileID)
	if err != nil {
		d.publish(ctx, events.TopicDownloadFailed, events.DownloadFailed{FileID: fileID, Reason: err.Error()})
		return "", err
	}

	var lastErr error
	for _, n := range candidates {
		path, err := d.downloadFrom(ctx, fileID, n)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		d.log.Warn("download from node failed, trying next",
			"file_id", fileID, "node_id", n.ID, "error", err)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no node holds file %s", errs.ErrNotFound, fileID)
	}
	d.publish(ctx, events.TopicDownloadFailed, events.DownloadFailed{FileID: fileID, Reason: lastErr.Error()})
	return "", lastErr
}

// FromNode downloads the file from one specific node.
func (d *Downloader) FromNode(ctx context.Context, fileID, nodeID string) (string, error) {
	n := d.nodes.GetNode(nodeID)
	if n == nil {
		return "", errs.Validation("unknown node %s", nodeID)
	}

	acquired, err := d.guard.Acquire(ctx, fileID)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", ErrDownloadInProgress
	}
	defer d.release(fileID)

	path, err := d.downloadFrom(ctx, fileID, n)
	if err != nil {
		d.publish(ctx, events.TopicDownloadFailed, events.DownloadFailed{FileID: fileID, Reason: err.Error()})
		return "", err
	}
	return path, nil
}

// Metadata fetches the file's metadata from the best node that holds it,
// without downloading the blob.
func (d *Downloader) Metadata(ctx context.Context, fileID string) (*models.Metadata, error) {
	candidates, err := d.candidateNodes(ctx, fileID)
	if err != nil {
		d.publish(ctx, events.TopicMetadataFailed, events.MetadataFailed{FileID: fileID, Reason: err.Error()})
		return nil, err
	}

	var lastErr error
	for _, n := range candidates {
		md, err := d.fetchMetadata(ctx, fileID, n)
		if err == nil {
			d.publish(ctx, events.TopicMetadataReady, events.MetadataReady{FileID: fileID, Metadata: md})
			return md, nil
		}
		lastErr = err
	}
	d.publish(ctx, events.TopicMetadataFailed, events.MetadataFailed{FileID: fileID, Reason: lastErr.Error()})
	return nil, lastErr
}

// candidateNodes resolves the nodes holding the file, consulting the local
// mapping cache first and falling back to the master. The result is sorted
// by download metric.
func (d *Downloader) candidateNodes(ctx context.Context, fileID string) ([]*models.StorageNode, error) {
	ids, err := d.cache.Get(ctx, fileID)
	if err != nil || len(ids) == 0 {
		ids, err = d.master.GetFileNodeMapping(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("resolve nodes for %s: %w", fileID, err)
		}
		if storeErr := d.cache.Store(ctx, fileID, ids); storeErr != nil {
			d.log.Warn("caching file/node mapping failed", "file_id", fileID, "error", storeErr)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no node holds file %s", errs.ErrNotFound, fileID)
	}

	nodes := make([]*models.StorageNode, 0, len(ids))
	for _, id := range ids {
		if n := d.nodes.GetNode(id); n != nil {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no known node holds file %s", errs.ErrNotFound, fileID)
	}
	node.SortByDistanceMetric(nodes)
	return nodes, nil
}

func (d *Downloader) fetchMetadata(ctx context.Context, fileID string, n *models.StorageNode) (*models.Metadata, error) {
	mdCtx, cancel := context.WithTimeout(ctx, d.cfg.MetadataTimeout)
	defer cancel()
	md, err := d.dial(n.BaseURI()).Metadata(mdCtx, fileID, d.deviceID)
	if err != nil {
		return nil, err
	}
	md.NodeType = n.Type
	return md, nil
}

func (d *Downloader) downloadFrom(ctx context.Context, fileID string, n *models.StorageNode) (string, error) {
	md, err := d.fetchMetadata(ctx, fileID, n)
	if err != nil {
		d.publish(ctx, events.TopicMetadataFailed, events.MetadataFailed{FileID: fileID, Reason: err.Error()})
		return "", err
	}
	d.publish(ctx, events.TopicMetadataReady, events.MetadataReady{FileID: fileID, Metadata: md})

	name := fileID
	if md.Extension != "" {
		name = fileID + "." + md.Extension
	}
	path := filepath.Join(d.dir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	d.publish(ctx, events.TopicDownloadStart, events.DownloadStart{FileID: fileID, NodeID: n.ID})
	err = d.dial(n.BaseURI()).Download(ctx, fileID, d.deviceID, out, d.progressFunc(ctx, fileID))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// Never leave a truncated file behind.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			d.log.Warn("removing partial download failed", "path", path, "error", rmErr)
		}
		return "", err
	}

	d.publish(ctx, events.TopicDownloadedFileReady, events.DownloadedFileReady{FileID: fileID, Path: path})
	return path, nil
}

func (d *Downloader) progressFunc(ctx context.Context, fileID string) clients.ProgressFunc {
	last := -1
	return func(transferred, total int64) {
		if total <= 0 {
			return
		}
		percent := int(transferred * 100 / total)
		if percent <= last {
			return
		}
		last = percent
		d.publish(ctx, events.TopicDownloadProgress, events.DownloadProgress{FileID: fileID, Percent: percent})
	}
}

func (d *Downloader) release(fileID string) {
	if err := d.guard.Release(context.Background(), fileID); err != nil {
		d.log.Warn("release download guard", "file_id", fileID, "error", err)
	}
}

func (d *Downloader) publish(ctx context.Context, topic string, event any) {
	if err := d.bus.Publish(ctx, topic, event); err != nil {
		d.log.Warn("event publish failed", "topic", topic, "error", err)
	}
}
