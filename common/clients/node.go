package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

// Storage node routes. They must match the node server script.
const (
	routeFile             = "/file/data"
	routeFileDelete       = "/file"
	routeFileMetadataFull = "/file/metadata/full"
	routeFileSearch       = "/file/search"
	routeNodeUUID         = "/uuid"
)

// NodeClient talks to one storage node over its REST surface.
type NodeClient struct {
	baseURI string
	http    *HTTPClient
	log     *logger.Logger
}

// NewNodeClient creates a client for the node reachable at baseURI
// (address:port).
func NewNodeClient(baseURI string, http *HTTPClient, log *logger.Logger) *NodeClient {
	return &NodeClient{baseURI: baseURI, http: http, log: log}
}

// identityReply is the payload of the /uuid route.
type identityReply struct {
	UUID string `json:"uuid"`
	Type string `json:"type"`
}

// FetchIdentity asks the node for its id and type.
func (c *NodeClient) FetchIdentity(ctx context.Context) (string, models.NodeType, error) {
	resp, err := c.http.DoRequest(ctx, http.MethodGet, c.baseURI+routeNodeUUID, nil)
	if err != nil {
		return "", models.NodeTypeUnknown, fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	reply, err := decodeReply(resp)
	if err != nil {
		return "", models.NodeTypeUnknown, err
	}
	var id identityReply
	if err := json.Unmarshal(reply, &id); err != nil {
		return "", models.NodeTypeUnknown, fmt.Errorf("%w: %v", errs.ErrMalformedReply, err)
	}
	if id.UUID == "" {
		return "", models.NodeTypeUnknown, fmt.Errorf("%w: reply has no uuid", errs.ErrMalformedReply)
	}
	return id.UUID, models.ParseNodeType(id.Type), nil
}

// Upload sends a prepared multipart body to the node. The body bytes are
// built once by the caller so attempts can be repeated; progress reports
// bytes written.
func (c *NodeClient) Upload(ctx context.Context, contentType string, body []byte, progress ProgressFunc) error {
	reader := NewProgressReader(bytes.NewReader(body), int64(len(body)), progress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURI+routeFile, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	if _, err := decodeReply(resp); err != nil {
		return err
	}
	return nil
}

// metadataReply wraps the metadata payload.
type metadataReply struct {
	Metadata *models.Metadata `json:"metadata"`
}

// Metadata fetches full metadata for a file. Private files are only served
// to their owner, identified by deviceID.
func (c *NodeClient) Metadata(ctx context.Context, fileID, deviceID string) (*models.Metadata, error) {
	url := fmt.Sprintf("%s%s/%s/%s", c.baseURI, routeFileMetadataFull, fileID, deviceID)
	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	reply, err := decodeReply(resp)
	if err != nil {
		return nil, err
	}
	var md metadataReply
	if err := json.Unmarshal(reply, &md); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedReply, err)
	}
	if md.Metadata == nil {
		return nil, fmt.Errorf("%w: reply has no metadata", errs.ErrMalformedReply)
	}
	return md.Metadata, nil
}

// Download streams the file body to w, reporting progress against the
// Content-Length when the node sends one.
func (c *NodeClient) Download(ctx context.Context, fileID, deviceID string, w io.Writer, progress ProgressFunc) error {
	url := fmt.Sprintf("%s%s/%s/%s", c.baseURI, routeFile, fileID, deviceID)
	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", errs.ErrNodeUnreachable, resp.StatusCode)
	}
	reader := NewProgressReader(resp.Body, resp.ContentLength, progress)
	if _, err := io.Copy(w, reader); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	return nil
}

// Delete removes a file from the node. Only the owner may delete; a 404
// counts as already gone.
func (c *NodeClient) Delete(ctx context.Context, fileID, deviceID string) error {
	url := fmt.Sprintf("%s%s/%s/%s", c.baseURI, routeFileDelete, fileID, deviceID)
	resp, err := c.http.DoRequest(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil
	}
	if _, err := decodeReply(resp); err != nil {
		return err
	}
	return nil
}

// searchReply wraps the context search result list.
type searchReply struct {
	Files []*models.Metadata `json:"files"`
}

// SearchMatchingContext asks the node for files matching a usage context.
func (c *NodeClient) SearchMatchingContext(ctx context.Context, usage *models.ContextDescription, deviceID string) ([]*models.Metadata, error) {
	payload, err := json.Marshal(map[string]any{
		"context": usage,
		"phoneID": deviceID,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURI+routeFileSearch, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	reply, err := decodeReply(resp)
	if err != nil {
		return nil, err
	}
	var sr searchReply
	if err := json.Unmarshal(reply, &sr); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedReply, err)
	}
	return sr.Files, nil
}
