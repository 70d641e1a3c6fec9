package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/vstore/vstore/common/clients"
	"github.com/vstore/vstore/common/config"
	"github.com/vstore/vstore/common/events"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

// FileStore is the slice of the file repository the transfer package needs.
type FileStore interface {
	GetByID(ctx context.Context, id string) (*models.StoredFile, error)
	SetUploadState(ctx context.Context, id string, pending, failed bool) error
	ListUploadPending(ctx context.Context) ([]*models.StoredFile, error)
	ListDeletePending(ctx context.Context) ([]*models.StoredFile, error)
	Delete(ctx context.Context, id string) error
}

// NodeSource resolves node ids to known storage nodes.
type NodeSource interface {
	GetNode(id string) *models.StorageNode
}

// MappingSink records which nodes hold a file.
type MappingSink interface {
	PostFileNodeMapping(ctx context.Context, fileID, nodeID string) error
	DeleteFileNodeMapping(ctx context.Context, fileID string) error
}

// NodeAPI is the per-node client surface used by transfers.
type NodeAPI interface {
	Upload(ctx context.Context, contentType string, body []byte, progress clients.ProgressFunc) error
	Metadata(ctx context.Context, fileID, deviceID string) (*models.Metadata, error)
	Download(ctx context.Context, fileID, deviceID string, w io.Writer, progress clients.ProgressFunc) error
	Delete(ctx context.Context, fileID, deviceID string) error
	SearchMatchingContext(ctx context.Context, usage *models.ContextDescription, deviceID string) ([]*models.Metadata, error)
}

// NodeDialer creates a client for a node's base URI.
type NodeDialer func(baseURI string) NodeAPI

// DefaultDialer builds real HTTP node clients with the configured timeouts.
func DefaultDialer(cfg config.TransferConfig, log *logger.Logger) NodeDialer {
	httpClient := clients.NewHTTPClient(cfg.WriteTimeout, log)
	return func(baseURI string) NodeAPI {
		return clients.NewNodeClient(baseURI, httpClient, log)
	}
}

// Uploader pushes stored files to their decided nodes in the background.
// Each file is uploaded to its nodes sequentially, with a bounded number of
// attempts per node, and at most one upload per file runs at a time.
// Different files upload concurrently, so one file stuck in its retry loop
// never stalls the others.
type Uploader struct {
	files    FileStore
	nodes    NodeSource
	mappings MappingSink
	dial     NodeDialer
	guard    *Guard
	bus      events.Bus
	cfg      config.TransferConfig
	deviceID string
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewUploader(files FileStore, nodes NodeSource, mappings MappingSink, dial NodeDialer,
	guard *Guard, bus events.Bus, cfg config.TransferConfig, deviceID string, log *logger.Logger) *Uploader {

	ctx, cancel := context.WithCancel(context.Background())
	return &Uploader{
		files:    files,
		nodes:    nodes,
		mappings: mappings,
		dial:     dial,
		guard:    guard,
		bus:      bus,
		cfg:      cfg,
		deviceID: deviceID,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Queue starts the file's upload in its own worker. A file already in
// flight is not picked up again, so calling Queue repeatedly is safe.
func (u *Uploader) Queue(ctx context.Context, f *models.StoredFile) error {
	acquired, err := u.guard.Acquire(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("acquire upload guard for %s: %w", f.ID, err)
	}
	if !acquired {
		u.log.Debug("upload already in flight", "file_id", f.ID)
		return nil
	}
	u.wg.Add(1)
	go u.run(f)
	return nil
}

// QueuePending schedules every file whose upload is still pending, used on
// startup to resume interrupted uploads.
func (u *Uploader) QueuePending(ctx context.Context) error {
	pending, err := u.files.ListUploadPending(ctx)
	if err != nil {
		return err
	}
	for _, f := range pending {
		if err := u.Queue(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Close cancels every running upload and waits for the workers to return.
func (u *Uploader) Close() {
	u.cancel()
	u.wg.Wait()
}

func (u *Uploader) run(f *models.StoredFile) {
	defer u.wg.Done()
	u.process(u.ctx, f)
	if err := u.guard.Release(context.Background(), f.ID); err != nil {
		u.log.Warn("release upload guard", "file_id", f.ID, "error", err)
	}
	u.checkAllDone(u.ctx)
}

// checkAllDone publishes AllUploadsDone when the repository confirms
// nothing is pending anymore. Files still uploading keep their pending
// flag until their worker finishes, so in-flight siblings hold it back.
func (u *Uploader) checkAllDone(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	pending, err := u.files.ListUploadPending(ctx)
	if err != nil {
		u.log.Warn("pending upload check failed", "error", err)
		return
	}
	if len(pending) == 0 {
		u.publish(ctx, events.TopicAllUploadsDone, events.AllUploadsDone{})
	}
}

func (u *Uploader) process(ctx context.Context, f *models.StoredFile) {
	log := u.log.WithFileID(f.ID)

	contentType, body, err := uploadBody(f, u.deviceID)
	if err != nil {
		log.Error("building upload request failed", "error", err)
		u.failCompletely(ctx, f, log)
		return
	}

	var stored int
	for _, nodeID := range f.NodeIDs {
		n := u.nodes.GetNode(nodeID)
		if n == nil {
			log.Warn("decided node unknown, skipping", "node_id", nodeID)
			continue
		}
		if u.uploadToNode(ctx, f, n, contentType, body) {
			stored++
		}
		if ctx.Err() != nil {
			return
		}
	}

	if stored == 0 {
		u.failCompletely(ctx, f, log)
	} else {
		if err := u.files.SetUploadState(ctx, f.ID, false, false); err != nil {
			log.Error("persisting upload state failed", "error", err)
		}
		log.Info("upload finished", "nodes", stored)
	}
	// Terminal for this file: every target node was attempted.
	u.publish(ctx, events.TopicUploadDoneCompletely, events.UploadDoneCompletely{
		FileID: f.ID, StoredNodes: stored,
	})
}

// uploadToNode runs the bounded retry loop against one node.
func (u *Uploader) uploadToNode(ctx context.Context, f *models.StoredFile, n *models.StorageNode, contentType string, body []byte) bool {
	client := u.dial(n.BaseURI())
	log := u.log.WithFileID(f.ID).WithNodeID(n.ID)

	var lastErr error
	for attempt := 1; attempt <= u.cfg.MaxAttempts; attempt++ {
		u.publish(ctx, events.TopicUploadBegin, events.UploadBegin{
			FileID: f.ID, NodeID: n.ID, Attempt: attempt,
		})

		err := client.Upload(ctx, contentType, body, u.progressFunc(ctx, f.ID, n.ID))
		if err == nil {
			u.publish(ctx, events.TopicUploadDone, events.UploadDone{FileID: f.ID, NodeID: n.ID})
			if err := u.mappings.PostFileNodeMapping(ctx, f.ID, n.ID); err != nil {
				log.Warn("reporting file/node mapping failed", "error", err)
			}
			return true
		}

		lastErr = err
		log.Warn("upload attempt failed", "attempt", attempt, "error", err)
		u.publish(ctx, events.TopicUploadFailed, events.UploadFailed{
			FileID: f.ID, NodeID: n.ID, Attempt: attempt, Reason: err.Error(),
		})
		if attempt < u.cfg.MaxAttempts {
			if !sleepCtx(ctx, u.cfg.SleepBetweenAttempts) {
				return false
			}
		}
	}

	u.publish(ctx, events.TopicUploadFailedPermanently, events.UploadFailedPermanently{
		FileID: f.ID, NodeID: n.ID, Reason: lastErr.Error(),
	})
	return false
}

func (u *Uploader) failCompletely(ctx context.Context, f *models.StoredFile, log *logger.Logger) {
	if err := u.files.SetUploadState(ctx, f.ID, false, true); err != nil {
		log.Error("persisting upload state failed", "error", err)
	}
	u.publish(ctx, events.TopicUploadFailedCompletely, events.UploadFailedCompletely{FileID: f.ID})
}

// progressFunc publishes whole-percent progress, strictly increasing per
// transfer so subscribers never see it move backwards.
func (u *Uploader) progressFunc(ctx context.Context, fileID, nodeID string) clients.ProgressFunc {
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
		u.publish(ctx, events.TopicUploadProgress, events.UploadProgress{
			FileID: fileID, NodeID: nodeID, Percent: percent,
		})
	}
}

func (u *Uploader) publish(ctx context.Context, topic string, event any) {
	if err := u.bus.Publish(ctx, topic, event); err != nil {
		u.log.Warn("event publish failed", "topic", topic, "error", err)
	}
}

// uploadBody builds the multipart request a storage node expects. The body
// is assembled once per file and reused across nodes and attempts.
func uploadBody(f *models.StoredFile, deviceID string) (string, []byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", nil, fmt.Errorf("read file %s: %w", f.Path, err)
	}

	contextJSON := []byte("{}")
	if f.Context != nil {
		contextJSON, err = json.Marshal(f.Context)
		if err != nil {
			return "", nil, fmt.Errorf("marshal context for %s: %w", f.ID, err)
		}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	// The node addresses the blob by the file's uuid, so the uuid is the
	// part's filename.
	part, err := w.CreateFormFile("filedata", f.ID)
	if err != nil {
		return "", nil, err
	}
	if _, err := part.Write(data); err != nil {
		return "", nil, err
	}

	fields := map[string]string{
		"descriptiveName": f.Name,
		"mimetype":        f.MimeType,
		"extension":       f.Extension,
		"filesize":        strconv.FormatInt(f.Size, 10),
		"creationdate":    strconv.FormatInt(f.CreatedAt.Unix(), 10),
		"isPrivate":       strconv.FormatBool(f.IsPrivate),
		"phoneID":         deviceID,
		"context":         string(contextJSON),
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return "", nil, err
		}
	}
	if err := w.Close(); err != nil {
		return "", nil, err
	}
	return w.FormDataContentType(), buf.Bytes(), nil
}

// sleepCtx waits for the duration unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
