package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstore/vstore/common/events"
	"github.com/vstore/vstore/common/kv"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

type downloaderFixture struct {
	downloader *Downloader
	cache      *memMappingCache
	master     *fakeMappings
	dial       *fakeDial
	bus        *recordBus
	guard      *Guard
	dir        string
}

// memMappingCache is a map-backed MappingCache.
type memMappingCache struct {
	entries map[string][]string
}

func (c *memMappingCache) Get(_ context.Context, fileID string) ([]string, error) {
	return c.entries[fileID], nil
}

func (c *memMappingCache) Store(_ context.Context, fileID string, nodeIDs []string) error {
	c.entries[fileID] = nodeIDs
	return nil
}

func (c *memMappingCache) Remove(_ context.Context, fileID string) error {
	delete(c.entries, fileID)
	return nil
}

func newDownloaderFixture(t *testing.T, nodes *fakeNodes) *downloaderFixture {
	t.Helper()
	dial := newFakeDial()
	cache := &memMappingCache{entries: make(map[string][]string)}
	master := newFakeMappings()
	bus := &recordBus{}
	guard := NewDownloadGuard(kv.NewMemoryStore())
	dir := t.TempDir()

	d := NewDownloader(nodes, cache, master, dial.dialer(), guard, bus,
		testTransferConfig(), "device-1", dir, logger.Discard())
	return &downloaderFixture{
		downloader: d, cache: cache, master: master, dial: dial, bus: bus, guard: guard, dir: dir,
	}
}

func scriptedMetadata(id string) *models.Metadata {
	return &models.Metadata{
		UUID:      id,
		Filesize:  5,
		MimeType:  "image/jpeg",
		Extension: "jpg",
	}
}

func TestDownloadByMetricPrefersCloudlet(t *testing.T) {
	cloud := testNode("cloud")
	cloud.Type = models.NodeTypeCloud
	edge := testNode("edge")

	fx := newDownloaderFixture(t, newFakeNodes(cloud, edge))
	fx.cache.entries["f1"] = []string{"cloud", "edge"}
	for _, uri := range []string{"http://cloud:8080", "http://edge:8080"} {
		c := fx.dial.client(uri)
		c.metadata = scriptedMetadata("f1")
		c.content = []byte("image")
	}

	path, err := fx.downloader.ByMetric(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fx.dir, "f1.jpg"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "image", string(data))

	// The cloudlet ranks better, so the cloud was never contacted.
	assert.Equal(t, 0, fx.dial.client("http://cloud:8080").uploadCalls())
	assert.Equal(t, 1, fx.bus.count(events.TopicDownloadedFileReady))
	assert.Equal(t, 1, fx.bus.count(events.TopicMetadataReady))

	held, err := fx.guard.Held(context.Background(), "f1")
	require.NoError(t, err)
	assert.False(t, held, "guard must be released after the download")
}

func TestDownloadFallsBackToNextNode(t *testing.T) {
	bad := testNode("bad")
	good := testNode("good")

	fx := newDownloaderFixture(t, newFakeNodes(bad, good))
	fx.cache.entries["f1"] = []string{"bad", "good"}

	fx.dial.client("http://bad:8080").metadataErr = assert.AnError
	goodClient := fx.dial.client("http://good:8080")
	goodClient.metadata = scriptedMetadata("f1")
	goodClient.content = []byte("image")

	path, err := fx.downloader.ByMetric(context.Background(), "f1")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, 1, fx.bus.count(events.TopicMetadataFailed))
}

func TestDownloadConsultsMasterWhenCacheEmpty(t *testing.T) {
	n := testNode("n1")
	fx := newDownloaderFixture(t, newFakeNodes(n))
	fx.master.lookup["f1"] = []string{"n1"}

	c := fx.dial.client("http://n1:8080")
	c.metadata = scriptedMetadata("f1")
	c.content = []byte("image")

	_, err := fx.downloader.ByMetric(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, fx.cache.entries["f1"], "master answer is cached")
}

func TestDownloadNoNodeHoldsFile(t *testing.T) {
	fx := newDownloaderFixture(t, newFakeNodes())

	_, err := fx.downloader.ByMetric(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, 1, fx.bus.count(events.TopicDownloadFailed))
}

func TestDownloadRefusedWhileInFlight(t *testing.T) {
	n := testNode("n1")
	fx := newDownloaderFixture(t, newFakeNodes(n))
	fx.cache.entries["f1"] = []string{"n1"}

	held, err := fx.guard.Acquire(context.Background(), "f1")
	require.NoError(t, err)
	require.True(t, held)

	_, err = fx.downloader.ByMetric(context.Background(), "f1")
	assert.ErrorIs(t, err, ErrDownloadInProgress)
}

func TestDownloadRemovesPartialFile(t *testing.T) {
	n := testNode("n1")
	fx := newDownloaderFixture(t, newFakeNodes(n))
	fx.cache.entries["f1"] = []string{"n1"}

	c := fx.dial.client("http://n1:8080")
	c.metadata = scriptedMetadata("f1")
	c.downloadErr = assert.AnError

	_, err := fx.downloader.ByMetric(context.Background(), "f1")
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(fx.dir, "f1.jpg"))
}

func TestDownloadFromSpecificNode(t *testing.T) {
	near := testNode("near")
	far := testNode("far")
	fx := newDownloaderFixture(t, newFakeNodes(near, far))

	c := fx.dial.client("http://far:8080")
	c.metadata = scriptedMetadata("f1")
	c.content = []byte("image")

	path, err := fx.downloader.FromNode(context.Background(), "f1", "far")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = fx.downloader.FromNode(context.Background(), "f1", "ghost")
	assert.Error(t, err)
}

func TestMetadataOnly(t *testing.T) {
	n := testNode("n1")
	fx := newDownloaderFixture(t, newFakeNodes(n))
	fx.cache.entries["f1"] = []string{"n1"}
	fx.dial.client("http://n1:8080").metadata = scriptedMetadata("f1")

	md, err := fx.downloader.Metadata(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", md.UUID)
	assert.Equal(t, models.NodeTypeCloudlet, md.NodeType, "the serving node's type is attached")
	assert.Equal(t, 1, fx.bus.count(events.TopicMetadataReady))

	entries, err := os.ReadDir(fx.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "metadata requests must not download content")
}
