package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NodeType classifies a storage node.
type NodeType string

const (
	NodeTypeCloud      NodeType = "CLOUD"
	NodeTypeCoreNet    NodeType = "CORENET"
	NodeTypeCloudlet   NodeType = "CLOUDLET"
	NodeTypeGateway    NodeType = "GATEWAY"
	NodeTypePrivate    NodeType = "OWNCLOUD"
	NodeTypeDeviceOnly NodeType = "PHONE"
	NodeTypeUnknown    NodeType = "UNKNOWN"
	NodeTypeNone       NodeType = "NONE"
)

// ParseNodeType maps a wire string to a NodeType, Unknown for anything
// unrecognized.
func ParseNodeType(s string) NodeType {
	switch NodeType(strings.ToUpper(s)) {
	case NodeTypeCloud, NodeTypeCoreNet, NodeTypeCloudlet, NodeTypeGateway,
		NodeTypePrivate, NodeTypeDeviceOnly, NodeTypeNone:
		return NodeType(strings.ToUpper(s))
	default:
		return NodeTypeUnknown
	}
}

// IsDeviceSentinel reports whether the type means "stop, store locally".
func (t NodeType) IsDeviceSentinel() bool {
	return t == NodeTypeDeviceOnly || t == NodeTypeUnknown
}

// LatLng is a geographic coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// StorageNode holds identity and reachability information for one node.
type StorageNode struct {
	ID            string   `json:"uuid"`
	Address       string   `json:"address"`
	Port          int      `json:"port"`
	Type          NodeType `json:"type"`
	Location      *LatLng  `json:"location,omitempty"`
	BandwidthUp   int      `json:"bandwidthUp"`
	BandwidthDown int      `json:"bandwidthDown"`
}

// NewStorageNode builds a node, normalizing the address scheme.
func NewStorageNode(id, address string, port int, typ NodeType, loc *LatLng) *StorageNode {
	if !strings.Contains(address, "http://") && !strings.Contains(address, "https://") {
		address = "http://" + address
	}
	return &StorageNode{
		ID:       id,
		Address:  address,
		Port:     port,
		Type:     typ,
		Location: loc,
	}
}

// BaseURI returns address:port.
func (n *StorageNode) BaseURI() string {
	return fmt.Sprintf("%s:%d", n.Address, n.Port)
}

// nodeWire is the node config feed shape: location is a [lat,lng] pair.
type nodeWire struct {
	UUID          string    `json:"uuid"`
	URL           string    `json:"url"`
	Port          int       `json:"port"`
	Type          string    `json:"type"`
	Location      []float64 `json:"location"`
	BandwidthUp   int       `json:"bandwidthUp"`
	BandwidthDown int       `json:"bandwidthDown"`
}

// NodeFromConfigJSON parses one entry of the node configuration feed.
func NodeFromConfigJSON(data []byte) (*StorageNode, error) {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse node config: %w", err)
	}
	if w.URL == "" {
		return nil, fmt.Errorf("node config entry has no url")
	}
	var loc *LatLng
	if len(w.Location) == 2 {
		loc = &LatLng{Lat: w.Location[0], Lng: w.Location[1]}
	}
	n := NewStorageNode(w.UUID, w.URL, w.Port, ParseNodeType(w.Type), loc)
	n.BandwidthUp = w.BandwidthUp
	n.BandwidthDown = w.BandwidthDown
	return n, nil
}

// ConfigJSON renders the node in the configuration feed shape.
func (n *StorageNode) ConfigJSON() ([]byte, error) {
	w := nodeWire{
		UUID:          n.ID,
		URL:           n.Address,
		Port:          n.Port,
		Type:          string(n.Type),
		BandwidthUp:   n.BandwidthUp,
		BandwidthDown: n.BandwidthDown,
	}
	if n.Location != nil {
		w.Location = []float64{n.Location.Lat, n.Location.Lng}
	}
	return json.Marshal(w)
}
