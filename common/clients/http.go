package clients

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/vstore/vstore/common/logger"
)

// HTTPClient wraps http.Client with context-aware helpers and request
// logging.
type HTTPClient struct {
	client *http.Client
	log    *logger.Logger
}

// NewHTTPClient creates a new HTTP client wrapper with the given total
// request timeout. A zero timeout means no limit beyond the context.
func NewHTTPClient(timeout time.Duration, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// DoRequest creates and executes an HTTP request bound to ctx.
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("http request", "method", method, "url", url)
	return c.client.Do(req)
}

// Do executes an already built request.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// ProgressFunc receives transferred and total byte counts. Total is -1 when
// unknown.
type ProgressFunc func(transferred, total int64)

// ProgressReader reports bytes read from the wrapped reader.
type ProgressReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

// NewProgressReader wraps r, reporting progress against total.
func NewProgressReader(r io.Reader, total int64, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, total: total, progress: progress}
}

func (p *ProgressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		if p.progress != nil {
			p.progress(p.read, p.total)
		}
	}
	return n, err
}
