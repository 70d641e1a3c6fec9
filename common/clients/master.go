package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

// Master registry routes.
const (
	routeFileNodeMapping = "/v1/file_node_mapping"
	routeConfiguration   = "/v1/configuration"
	routeNodeList        = "/v1/nodes"
)

// MasterClient talks to the master registry service. All calls are
// idempotent and safe to retry; control-plane timeouts are short.
type MasterClient struct {
	baseURL  string
	deviceID string
	http     *HTTPClient
	log      *logger.Logger
}

// NewMasterClient creates a master registry client. timeout bounds every
// call (2s for control-plane traffic).
func NewMasterClient(baseURL, deviceID string, timeout time.Duration, log *logger.Logger) *MasterClient {
	return &MasterClient{
		baseURL:  baseURL,
		deviceID: deviceID,
		http:     NewHTTPClient(timeout, log),
		log:      log,
	}
}

// mappingReply is the master's file-node mapping answer.
type mappingReply struct {
	Data struct {
		Array []string `json:"array"`
	} `json:"data"`
}

// GetFileNodeMapping asks the master which nodes hold the file. An empty
// list is a valid answer, not an error.
func (c *MasterClient) GetFileNodeMapping(ctx context.Context, fileID string) ([]string, error) {
	url := fmt.Sprintf("%s%s/%s", c.baseURL, routeFileNodeMapping, fileID)
	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", errs.ErrNodeUnreachable, resp.StatusCode)
	}
	var mr mappingReply
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedReply, err)
	}
	return mr.Data.Array, nil
}

// PostFileNodeMapping registers that nodeID now holds fileID.
func (c *MasterClient) PostFileNodeMapping(ctx context.Context, fileID, nodeID string) error {
	body := map[string]string{
		"file_id":   fileID,
		"node_id":   nodeID,
		"device_id": c.deviceID,
	}
	return c.sendMapping(ctx, http.MethodPost, body)
}

// DeleteFileNodeMapping removes all mappings for fileID.
func (c *MasterClient) DeleteFileNodeMapping(ctx context.Context, fileID string) error {
	body := map[string]string{
		"file_id":   fileID,
		"device_id": c.deviceID,
	}
	return c.sendMapping(ctx, http.MethodDelete, body)
}

func (c *MasterClient) sendMapping(ctx context.Context, method string, body map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+routeFileNodeMapping, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", errs.ErrNodeUnreachable, resp.StatusCode)
	}
	return nil
}

// nodeListWire is the node feed shape shared by the node list route and the
// configuration download.
type nodeListWire struct {
	Nodes []json.RawMessage `json:"nodes"`
}

// GetStorageNodeList downloads the full node list.
func (c *MasterClient) GetStorageNodeList(ctx context.Context) ([]*models.StorageNode, error) {
	resp, err := c.http.DoRequest(ctx, http.MethodGet, c.baseURL+routeNodeList, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", errs.ErrNodeUnreachable, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	return parseNodeList(raw)
}

func parseNodeList(raw []byte) ([]*models.StorageNode, error) {
	var wire nodeListWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedReply, err)
	}
	nodes := make([]*models.StorageNode, 0, len(wire.Nodes))
	for _, entry := range wire.Nodes {
		n, err := models.NodeFromConfigJSON(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrMalformedReply, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Configuration is the framework config feed served by the master: default
// nodes, global rules and the matching mode to use.
type Configuration struct {
	Nodes        []*models.StorageNode
	Rules        []*models.DecisionRule
	MatchingMode string
}

// configWire is the raw configuration feed.
type configWire struct {
	Nodes        []json.RawMessage      `json:"nodes"`
	Rules        []*models.DecisionRule `json:"rules"`
	MatchingMode string                 `json:"matchingMode"`
}

// GetConfiguration downloads the framework configuration. The device id is
// posted so the master can serve device-specific config.
func (c *MasterClient) GetConfiguration(ctx context.Context) (*Configuration, error) {
	payload, err := json.Marshal(map[string]string{"device_id": c.deviceID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+routeConfiguration, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", errs.ErrNodeUnreachable, resp.StatusCode)
	}

	var wire configWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedReply, err)
	}
	cfg := &Configuration{
		Rules:        wire.Rules,
		MatchingMode: wire.MatchingMode,
	}
	for _, entry := range wire.Nodes {
		n, err := models.NodeFromConfigJSON(entry)
		if err != nil {
			c.log.Warn("skipping malformed node config entry", "error", err)
			continue
		}
		cfg.Nodes = append(cfg.Nodes, n)
	}
	for _, r := range cfg.Rules {
		r.RefreshDetailScore()
	}
	return cfg, nil
}
