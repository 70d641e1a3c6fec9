// Package vstore is the framework facade: it wires storage, matching and
// transfer together and exposes the operations applications call.
package vstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vstore/vstore/common/clients"
	"github.com/vstore/vstore/common/config"
	"github.com/vstore/vstore/common/db"
	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/events"
	"github.com/vstore/vstore/common/kv"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
	"github.com/vstore/vstore/common/repository"
	"github.com/vstore/vstore/matching"
	"github.com/vstore/vstore/node"
	"github.com/vstore/vstore/rule"
	"github.com/vstore/vstore/transfer"
)

const deviceIDKey = "device:id"

// FileStore is the slice of the file repository the facade needs. It
// embeds the transfer contract so one repository serves both.
type FileStore interface {
	transfer.FileStore
	Create(ctx context.Context, f *models.StoredFile) error
	ExistsByMD5(ctx context.Context, md5 string) (bool, error)
	MarkDeletePending(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*models.StoredFile, error)
}

// VStore is the framework entry point. One instance per application.
type VStore struct {
	cfg *config.Config
	log *logger.Logger

	files    FileStore
	rules    *rule.Service
	registry *node.Registry
	engine   *matching.Engine
	mapper   *FileNodeMapper
	context  *ContextProvider
	master   *clients.MasterClient

	uploader   *transfer.Uploader
	downloader *transfer.Downloader
	deleter    *transfer.Deleter
	dial       transfer.NodeDialer

	deviceID string
	storeDir string
	dlDir    string

	modeMu sync.RWMutex
	mode   matching.Mode
}

// New wires the framework from its backing services. The caller owns the
// database, KV store and event bus; Close only stops what New started.
func New(ctx context.Context, cfg *config.Config, database *db.DB, kvStore kv.Store, bus events.Bus, log *logger.Logger) (*VStore, error) {
	storeDir := filepath.Join(cfg.Service.BaseDir, "files")
	dlDir := filepath.Join(cfg.Service.BaseDir, "downloads")
	for _, dir := range []string{storeDir, dlDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	deviceID, err := loadDeviceID(ctx, kvStore)
	if err != nil {
		return nil, err
	}

	nodeRepo := repository.NewNodeRepository(database)
	resolver := &identityResolver{
		http: clients.NewHTTPClient(cfg.Transfer.ConnectTimeout, log),
		log:  log,
	}
	registry := node.NewRegistry(nodeRepo, resolver, nil, log)
	if err := registry.Load(ctx); err != nil {
		return nil, err
	}

	files := repository.NewFileRepository(database)
	rules := rule.NewService(repository.NewRuleRepository(database), log)
	engine := matching.New(registry, rules, bus, log)
	mapper := NewFileNodeMapper(kvStore)
	master := clients.NewMasterClient(cfg.Master.Address, deviceID, cfg.Master.Timeout, log)
	dial := transfer.DefaultDialer(cfg.Transfer, log)

	v := &VStore{
		cfg:      cfg,
		log:      log,
		files:    files,
		rules:    rules,
		registry: registry,
		engine:   engine,
		mapper:   mapper,
		context:  NewContextProvider(kvStore),
		master:   master,
		dial:     dial,
		deviceID: deviceID,
		storeDir: storeDir,
		dlDir:    dlDir,
		mode:     matching.ParseMode(cfg.Matching.Mode),
	}
	v.uploader = transfer.NewUploader(files, registry, master, dial,
		transfer.NewUploadGuard(kvStore), bus, cfg.Transfer, deviceID, log)
	v.downloader = transfer.NewDownloader(registry, mapper, master, dial,
		transfer.NewDownloadGuard(kvStore), bus, cfg.Transfer, deviceID, dlDir, log)
	v.deleter = transfer.NewDeleter(files, registry, mapper, master, master, dial,
		bus, cfg.Transfer, deviceID, log)
	return v, nil
}

// loadDeviceID returns the persisted device identifier, creating one on
// first use.
func loadDeviceID(ctx context.Context, store kv.Store) (string, error) {
	id, err := store.Get(ctx, deviceIDKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return "", err
	}
	id = uuid.NewString()
	if err := store.Set(ctx, deviceIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}

// DeviceID is the stable identifier this installation presents to nodes.
func (v *VStore) DeviceID() string { return v.deviceID }

// Rules exposes rule management.
func (v *VStore) Rules() *rule.Service { return v.rules }

// Nodes exposes the node registry.
func (v *VStore) Nodes() *node.Registry { return v.registry }

// MatchingMode returns the mode storage decisions currently use.
func (v *VStore) MatchingMode() matching.Mode {
	v.modeMu.RLock()
	defer v.modeMu.RUnlock()
	return v.mode
}

// SetMatchingMode overrides the storage decision mode.
func (v *VStore) SetMatchingMode(m matching.Mode) {
	v.modeMu.Lock()
	v.mode = m
	v.modeMu.Unlock()
}

// ProvideContext sets the usage context attached to subsequently stored
// files.
func (v *VStore) ProvideContext(c *models.ContextDescription) {
	v.context.Provide(c)
}

// CurrentContext returns the usage context in effect.
func (v *VStore) CurrentContext(ctx context.Context) *models.ContextDescription {
	return v.context.Current(ctx)
}

// PersistContext saves the current usage context across restarts.
func (v *VStore) PersistContext(ctx context.Context) error {
	return v.context.Persist(ctx)
}

// ClearContext drops the usage context.
func (v *VStore) ClearContext(ctx context.Context) error {
	return v.context.Clear(ctx)
}

// Store ingests the file at path into the framework: it copies the file
// into managed storage, decides its target nodes from the current usage
// context and schedules the upload. A file whose content is already stored
// is rejected with ErrDuplicateContent.
func (v *VStore) Store(ctx context.Context, path string, isPrivate bool) (*models.StoredFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.Validation("file %s: %v", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, errs.Validation("%s is not a regular file", path)
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	f := &models.StoredFile{
		ID:            uuid.NewString(),
		Name:          strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		MimeType:      mimeType,
		Extension:     ext,
		Size:          info.Size(),
		CreatedAt:     time.Now(),
		IsPrivate:     isPrivate,
		UploadPending: true,
		Context:       v.context.Current(ctx),
	}

	f.Path, f.MD5, err = v.copyIntoStore(path, f)
	if err != nil {
		return nil, err
	}

	duplicate, err := v.files.ExistsByMD5(ctx, f.MD5)
	if err != nil {
		v.discardCopy(f.Path)
		return nil, err
	}
	if duplicate {
		v.discardCopy(f.Path)
		return nil, fmt.Errorf("%w: md5 %s", errs.ErrDuplicateContent, f.MD5)
	}

	decision, err := v.engine.Decide(ctx, f, v.MatchingMode())
	if err != nil {
		v.discardCopy(f.Path)
		return nil, err
	}

	f.NodeIDs = decision.NodeIDs()
	if len(f.NodeIDs) == 0 {
		// Phone-only decision or nothing matched: the file stays on the
		// device and no upload is scheduled.
		f.UploadPending = false
	}

	if err := v.files.Create(ctx, f); err != nil {
		v.discardCopy(f.Path)
		return nil, err
	}

	if f.UploadPending {
		if err := v.uploader.Queue(ctx, f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// copyIntoStore copies the source into managed storage, computing the
// content hash on the way.
func (v *VStore) copyIntoStore(path string, f *models.StoredFile) (string, string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", "", errs.Validation("open %s: %v", path, err)
	}
	defer src.Close()

	var target string
	if f.Extension != "" {
		target = filepath.Join(v.storeDir, f.ID+"."+f.Extension)
	} else {
		target = filepath.Join(v.storeDir, f.ID)
	}
	dst, err := os.Create(target)
	if err != nil {
		return "", "", fmt.Errorf("create %s: %w", target, err)
	}

	hash := md5.New()
	_, err = io.Copy(dst, io.TeeReader(src, hash))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		v.discardCopy(target)
		return "", "", fmt.Errorf("copy %s: %w", path, err)
	}
	return target, hex.EncodeToString(hash.Sum(nil)), nil
}

func (v *VStore) discardCopy(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		v.log.Warn("removing staged copy failed", "path", path, "error", err)
	}
}

// GetFile returns a local path to the file's content, downloading it from
// the best node when no local copy exists.
func (v *VStore) GetFile(ctx context.Context, fileID string) (string, error) {
	f, err := v.files.GetByID(ctx, fileID)
	if err == nil && f.Path != "" {
		if _, statErr := os.Stat(f.Path); statErr == nil {
			return f.Path, nil
		}
	}
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return "", err
	}
	return v.downloader.ByMetric(ctx, fileID)
}

// GetFileFromNode downloads the file from one specific node.
func (v *VStore) GetFileFromNode(ctx context.Context, fileID, nodeID string) (string, error) {
	return v.downloader.FromNode(ctx, fileID, nodeID)
}

// RequestMetadata fetches the file's metadata without its content.
func (v *VStore) RequestMetadata(ctx context.Context, fileID string) (*models.Metadata, error) {
	return v.downloader.Metadata(ctx, fileID)
}

// DeleteFile marks the file for deletion and tries to remove it from its
// nodes right away. When a node is unreachable the file stays marked and
// ProcessPendingDeletes finishes the job later.
func (v *VStore) DeleteFile(ctx context.Context, fileID string) error {
	f, err := v.files.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if err := v.files.MarkDeletePending(ctx, fileID); err != nil {
		return err
	}
	f.DeletePending = true
	if err := v.deleter.Delete(ctx, f); err != nil {
		v.log.Warn("deletion deferred", "file_id", fileID, "error", err)
	}
	return nil
}

// ProcessPendingDeletes retries deletions that could not finish earlier.
func (v *VStore) ProcessPendingDeletes(ctx context.Context) error {
	return v.deleter.ProcessPending(ctx)
}

// ResumePendingUploads schedules every upload interrupted by a restart.
func (v *VStore) ResumePendingUploads(ctx context.Context) error {
	return v.uploader.QueuePending(ctx)
}

// ListFiles returns everything the framework stores locally.
func (v *VStore) ListFiles(ctx context.Context) ([]*models.StoredFile, error) {
	return v.files.ListAll(ctx)
}

// FilesMatchingContext asks every known node for files whose stored context
// matches the given usage context. The mapping cache is rebuilt from the
// replies, since the previous cache says nothing about other devices'
// files.
func (v *VStore) FilesMatchingContext(ctx context.Context, usage *models.ContextDescription) ([]*models.Metadata, error) {
	if usage == nil {
		usage = v.context.Current(ctx)
	}
	if usage == nil {
		return nil, errs.Validation("no usage context available")
	}

	if err := v.mapper.Clear(ctx); err != nil {
		return nil, err
	}

	var results []*models.Metadata
	for _, n := range v.registry.NodeList() {
		found, err := v.dial(n.BaseURI()).SearchMatchingContext(ctx, usage, v.deviceID)
		if err != nil {
			v.log.Warn("context search failed", "node_id", n.ID, "error", err)
			continue
		}
		for _, md := range found {
			md.NodeType = n.Type
			if err := v.mapper.Add(ctx, md.UUID, n.ID); err != nil {
				v.log.Warn("caching mapping failed", "file_id", md.UUID, "error", err)
			}
			results = append(results, md)
		}
	}
	return results, nil
}

// RefreshConfiguration downloads the master's configuration and applies the
// served nodes, rules and matching mode.
func (v *VStore) RefreshConfiguration(ctx context.Context) error {
	conf, err := v.master.GetConfiguration(ctx)
	if err != nil {
		return err
	}

	for _, n := range conf.Nodes {
		if _, err := v.registry.AddNode(ctx, n); err != nil {
			v.log.Warn("configured node rejected", "node_id", n.ID, "error", err)
		}
	}
	if len(conf.Rules) > 0 {
		if err := v.rules.ReplaceAll(ctx, conf.Rules); err != nil {
			return err
		}
	}
	if conf.MatchingMode != "" {
		v.SetMatchingMode(matching.ParseMode(conf.MatchingMode))
	}
	v.log.Info("configuration refreshed",
		"nodes", len(conf.Nodes), "rules", len(conf.Rules), "mode", conf.MatchingMode)
	return nil
}

// Close stops background transfers. The database, KV store and event bus
// belong to the caller.
func (v *VStore) Close() error {
	v.uploader.Close()
	return nil
}

// identityResolver confirms a node's identity by asking the node itself.
type identityResolver struct {
	http *clients.HTTPClient
	log  *logger.Logger
}

func (r *identityResolver) ResolveIdentity(ctx context.Context, baseURI string) (string, models.NodeType, error) {
	return clients.NewNodeClient(baseURI, r.http, r.log).FetchIdentity(ctx)
}
