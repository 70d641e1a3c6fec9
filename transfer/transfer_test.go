package transfer

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/vstore/vstore/common/clients"
	"github.com/vstore/vstore/common/config"
	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/events"
	"github.com/vstore/vstore/common/models"
)

// Shared fakes for the transfer tests.

type fakeFileStore struct {
	mu      sync.Mutex
	files   map[string]*models.StoredFile
	pending map[string]bool
	failed  map[string]bool
}

func newFakeFileStore(files ...*models.StoredFile) *fakeFileStore {
	s := &fakeFileStore{
		files:   make(map[string]*models.StoredFile),
		pending: make(map[string]bool),
		failed:  make(map[string]bool),
	}
	for _, f := range files {
		s.files[f.ID] = f
		s.pending[f.ID] = f.UploadPending
	}
	return s
}

func (s *fakeFileStore) GetByID(_ context.Context, id string) (*models.StoredFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return f, nil
}

func (s *fakeFileStore) SetUploadState(_ context.Context, id string, pending, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = pending
	s.failed[id] = failed
	return nil
}

func (s *fakeFileStore) ListUploadPending(_ context.Context) ([]*models.StoredFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StoredFile
	for id, pending := range s.pending {
		if pending {
			out = append(out, s.files[id])
		}
	}
	return out, nil
}

func (s *fakeFileStore) ListDeletePending(_ context.Context) ([]*models.StoredFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StoredFile
	for _, f := range s.files {
		if f.DeletePending {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeFileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, id)
	delete(s.pending, id)
	return nil
}

func (s *fakeFileStore) uploadState(id string) (pending, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id], s.failed[id]
}

func (s *fakeFileStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[id]
	return ok
}

type fakeNodes struct {
	nodes map[string]*models.StorageNode
}

func newFakeNodes(nodes ...*models.StorageNode) *fakeNodes {
	m := make(map[string]*models.StorageNode)
	for _, n := range nodes {
		m[n.ID] = n
	}
	return &fakeNodes{nodes: m}
}

func (f *fakeNodes) GetNode(id string) *models.StorageNode {
	return f.nodes[id]
}

// fakeMappings records master mapping calls and can serve lookups.
type fakeMappings struct {
	mu       sync.Mutex
	posted   [][2]string
	deleted  []string
	lookup   map[string][]string
	fetchErr error
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{lookup: make(map[string][]string)}
}

func (m *fakeMappings) PostFileNodeMapping(_ context.Context, fileID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted = append(m.posted, [2]string{fileID, nodeID})
	return nil
}

func (m *fakeMappings) DeleteFileNodeMapping(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, fileID)
	return nil
}

func (m *fakeMappings) GetFileNodeMapping(_ context.Context, fileID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.lookup[fileID], nil
}

func (m *fakeMappings) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

// fakeNodeAPI scripts per-call outcomes for one node.
type fakeNodeAPI struct {
	mu          sync.Mutex
	uploadFails int
	uploads     int
	uploadGate  chan struct{}
	deletes     int
	deleteErr   error
	metadata    *models.Metadata
	metadataErr error
	content     []byte
	downloadErr error
}

func (f *fakeNodeAPI) Upload(ctx context.Context, _ string, body []byte, progress clients.ProgressFunc) error {
	f.mu.Lock()
	f.uploads++
	fail := f.uploadFails > 0
	if fail {
		f.uploadFails--
	}
	gate := f.uploadGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errs.ErrNodeUnreachable
	}
	if progress != nil {
		progress(int64(len(body)), int64(len(body)))
	}
	return nil
}

func (f *fakeNodeAPI) Metadata(_ context.Context, _, _ string) (*models.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	if f.metadata == nil {
		return nil, errors.New("no metadata scripted")
	}
	md := *f.metadata
	return &md, nil
}

func (f *fakeNodeAPI) Download(_ context.Context, _, _ string, w io.Writer, progress clients.ProgressFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return f.downloadErr
	}
	if _, err := w.Write(f.content); err != nil {
		return err
	}
	if progress != nil {
		progress(int64(len(f.content)), int64(len(f.content)))
	}
	return nil
}

func (f *fakeNodeAPI) Delete(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.deleteErr
}

func (f *fakeNodeAPI) SearchMatchingContext(_ context.Context, _ *models.ContextDescription, _ string) ([]*models.Metadata, error) {
	return nil, nil
}

func (f *fakeNodeAPI) uploadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// fakeDial routes base URIs to scripted node clients.
type fakeDial struct {
	mu      sync.Mutex
	clients map[string]*fakeNodeAPI
}

func newFakeDial() *fakeDial {
	return &fakeDial{clients: make(map[string]*fakeNodeAPI)}
}

func (d *fakeDial) client(baseURI string) *fakeNodeAPI {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[baseURI]
	if !ok {
		c = &fakeNodeAPI{}
		d.clients[baseURI] = c
	}
	return c
}

func (d *fakeDial) dialer() NodeDialer {
	return func(baseURI string) NodeAPI {
		return d.client(baseURI)
	}
}

// recordBus captures published events synchronously.
type recordBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordBus) Publish(_ context.Context, topic string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *recordBus) Subscribe(context.Context, string, events.Handler) error {
	return nil
}

func (b *recordBus) Close() error { return nil }

func (b *recordBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func testTransferConfig() config.TransferConfig {
	return config.TransferConfig{
		MaxAttempts:          3,
		SleepBetweenAttempts: 0,
		MetadataTimeout:      100000000,
	}
}

func testNode(id string) *models.StorageNode {
	return &models.StorageNode{
		ID: id, Address: "http://" + id, Port: 8080, Type: models.NodeTypeCloudlet,
	}
}
