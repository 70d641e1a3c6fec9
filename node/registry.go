package node

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

// SelectionMode picks how a node is chosen from a hierarchy level.
type SelectionMode int

const (
	SelectRandom SelectionMode = iota
	SelectNearest
)

// AllNodeTypes are the type buckets the registry maintains.
var AllNodeTypes = []models.NodeType{
	models.NodeTypeCloud,
	models.NodeTypeCoreNet,
	models.NodeTypeCloudlet,
	models.NodeTypeGateway,
	models.NodeTypePrivate,
	models.NodeTypeDeviceOnly,
	models.NodeTypeUnknown,
	models.NodeTypeNone,
}

// Store is the persistence contract the registry rebuilds from.
type Store interface {
	Upsert(ctx context.Context, n *models.StorageNode) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	ListAll(ctx context.Context) ([]*models.StorageNode, error)
}

// IdentityResolver confirms a candidate node's id and type over the
// network.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, baseURI string) (string, models.NodeType, error)
}

// Registry is the authoritative in-memory catalogue of known storage
// nodes, keyed by type and id, rebuilt from the store on startup. All
// query operations return zero values for "not found", never errors;
// callers treat absence as "try the next strategy".
type Registry struct {
	mu       sync.RWMutex
	nodes    map[models.NodeType]map[string]*models.StorageNode
	resolver IdentityResolver
	store    Store
	rnd      *rand.Rand
	log      *logger.Logger
}

// NewRegistry creates an empty registry. rnd may be seeded deterministically
// in tests; nil uses the default source.
func NewRegistry(store Store, resolver IdentityResolver, rnd *rand.Rand, log *logger.Logger) *Registry {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	r := &Registry{
		nodes:    make(map[models.NodeType]map[string]*models.StorageNode),
		resolver: resolver,
		store:    store,
		rnd:      rnd,
		log:      log,
	}
	for _, t := range AllNodeTypes {
		r.nodes[t] = make(map[string]*models.StorageNode)
	}
	return r
}

// Load rebuilds the in-memory buckets from the store.
func (r *Registry) Load(ctx context.Context) error {
	nodes, err := r.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load nodes: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range AllNodeTypes {
		r.nodes[t] = make(map[string]*models.StorageNode)
	}
	for _, n := range nodes {
		r.nodes[n.Type][n.ID] = n
	}
	r.log.Info("node registry loaded", "count", len(nodes))
	return nil
}

// AddNode upserts a node. When the id or type is unknown, the node itself
// is contacted first to resolve its identity; on timeout or malformed
// reply the node is not added and ErrNodeUnreachable surfaces.
func (r *Registry) AddNode(ctx context.Context, n *models.StorageNode) (*models.StorageNode, error) {
	if n == nil {
		return nil, errs.Validation("node must not be nil")
	}
	if n.ID == "" || n.Type == models.NodeTypeUnknown {
		if n.Address == "" || n.Port == 0 {
			return nil, errs.Validation("node has neither identity nor address")
		}
		id, typ, err := r.resolver.ResolveIdentity(ctx, n.BaseURI())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve node identity: %w", err)
		}
		n.ID = id
		n.Type = typ
	}

	if err := r.store.Upsert(ctx, n); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorageBackend, err)
	}

	r.mu.Lock()
	for _, bucket := range r.nodes {
		delete(bucket, n.ID)
	}
	r.nodes[n.Type][n.ID] = n
	r.mu.Unlock()

	r.log.Debug("node added", "node_id", n.ID, "type", n.Type)
	return n, nil
}

// GetNode returns the node with the given id, nil when unknown.
func (r *Registry) GetNode(id string) *models.StorageNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, bucket := range r.nodes {
		if n, ok := bucket[id]; ok {
			return n
		}
	}
	return nil
}

// DeleteNode removes a node from the registry and the store.
func (r *Registry) DeleteNode(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageBackend, err)
	}
	r.mu.Lock()
	for _, bucket := range r.nodes {
		delete(bucket, id)
	}
	r.mu.Unlock()
	return nil
}

// UpdateNode persists updated node information if the node is known.
func (r *Registry) UpdateNode(ctx context.Context, n *models.StorageNode) error {
	if r.GetNode(n.ID) == nil {
		return errs.ErrNotFound
	}
	return r.AddNodeUnchecked(ctx, n)
}

// AddNodeUnchecked upserts without the identity round trip. Used when the
// id and type are already trusted (config feed, update path).
func (r *Registry) AddNodeUnchecked(ctx context.Context, n *models.StorageNode) error {
	if err := r.store.Upsert(ctx, n); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageBackend, err)
	}
	r.mu.Lock()
	for _, bucket := range r.nodes {
		delete(bucket, n.ID)
	}
	r.nodes[n.Type][n.ID] = n
	r.mu.Unlock()
	return nil
}

// ClearNodes removes every node from the registry and the store.
func (r *Registry) ClearNodes(ctx context.Context) error {
	if err := r.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageBackend, err)
	}
	r.mu.Lock()
	for _, t := range AllNodeTypes {
		r.nodes[t] = make(map[string]*models.StorageNode)
	}
	r.mu.Unlock()
	return nil
}

// NodeCount returns the number of registered nodes.
func (r *Registry) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, bucket := range r.nodes {
		count += len(bucket)
	}
	return count
}

// NodeList returns all nodes keyed by id.
func (r *Registry) NodeList() map[string]*models.StorageNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*models.StorageNode)
	for _, bucket := range r.nodes {
		for id, n := range bucket {
			out[id] = n
		}
	}
	return out
}

// NodesOfType returns all nodes in one type bucket.
func (r *Registry) NodesOfType(t models.NodeType) []*models.StorageNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodesOfTypeLocked(t)
}

func (r *Registry) nodesOfTypeLocked(t models.NodeType) []*models.StorageNode {
	bucket := r.nodes[t]
	out := make([]*models.StorageNode, 0, len(bucket))
	for _, n := range bucket {
		out = append(out, n)
	}
	return out
}

// NodesOfTypes returns all nodes across the given type buckets.
func (r *Registry) NodesOfTypes(types []models.NodeType) []*models.StorageNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.StorageNode
	for _, t := range types {
		out = append(out, r.nodesOfTypeLocked(t)...)
	}
	return out
}

// NearestOfType returns the node of the given type closest to loc, nil when
// the bucket is empty.
func (r *Registry) NearestOfType(t models.NodeType, loc *models.LatLng) *models.StorageNode {
	return NearestFromList(r.NodesOfType(t), loc)
}

// NNearestOfType returns up to n closest nodes of the given type.
func (r *Registry) NNearestOfType(t models.NodeType, loc *models.LatLng, n int) []*models.StorageNode {
	nodes := r.NodesOfType(t)
	if len(nodes) <= n {
		return nodes
	}

	type entry struct {
		node *models.StorageNode
		dist float64
	}
	nearest := make([]entry, 0, n)
	for _, candidate := range nodes {
		d := nodeDistance(candidate, loc)
		if len(nearest) < n {
			nearest = append(nearest, entry{candidate, d})
			continue
		}
		for i := range nearest {
			if d < nearest[i].dist {
				nearest[i] = entry{candidate, d}
				break
			}
		}
	}

	out := make([]*models.StorageNode, 0, len(nearest))
	for _, e := range nearest {
		out = append(out, e.node)
	}
	return out
}

// NearestFromList returns the closest node from the list, nil on empty.
func NearestFromList(nodes []*models.StorageNode, loc *models.LatLng) *models.StorageNode {
	if len(nodes) == 0 {
		return nil
	}
	best := nodes[0]
	bestDist := nodeDistance(best, loc)
	for _, n := range nodes[1:] {
		if d := nodeDistance(n, loc); d < bestDist {
			best = n
			bestDist = d
		}
	}
	return best
}

// RandomFromList returns a uniformly random node from the list, nil on
// empty.
func (r *Registry) RandomFromList(nodes []*models.StorageNode) *models.StorageNode {
	if len(nodes) == 0 {
		return nil
	}
	r.mu.Lock()
	idx := r.rnd.Intn(len(nodes))
	r.mu.Unlock()
	return nodes[idx]
}

// RandomOfTypes returns a uniformly random node among the union of the
// given types.
func (r *Registry) RandomOfTypes(types ...models.NodeType) *models.StorageNode {
	return r.RandomFromList(r.NodesOfTypes(types))
}

// RandomNode returns any random registered node.
func (r *Registry) RandomNode() *models.StorageNode {
	var all []*models.StorageNode
	for _, n := range r.NodeList() {
		all = append(all, n)
	}
	return r.RandomFromList(all)
}

// NearestOfTypes returns the closest node among the given types. With a
// randomFactor above zero, up to that many nearest nodes per type are
// collected and one is picked at random to spread load.
func (r *Registry) NearestOfTypes(types []models.NodeType, loc *models.LatLng, randomFactor int) *models.StorageNode {
	if randomFactor <= 0 {
		var candidates []*models.StorageNode
		for _, t := range types {
			if n := r.NearestOfType(t, loc); n != nil {
				candidates = append(candidates, n)
			}
		}
		return NearestFromList(candidates, loc)
	}

	var nodes []*models.StorageNode
	for _, t := range types {
		nodes = append(nodes, r.NNearestOfType(t, loc, randomFactor)...)
	}
	return r.RandomFromList(nodes)
}

// FollowHierarchy walks the type list in order and returns the first
// non-empty level's pick.
func (r *Registry) FollowHierarchy(hierarchy []models.NodeType, mode SelectionMode, loc *models.LatLng) *models.StorageNode {
	if mode == SelectNearest && loc == nil {
		return nil
	}
	for _, t := range hierarchy {
		var n *models.StorageNode
		switch mode {
		case SelectRandom:
			n = r.RandomOfTypes(t)
		case SelectNearest:
			n = r.NearestOfType(t, loc)
		}
		if n != nil {
			return n
		}
	}
	return nil
}

// MatchingBandwidthAndRadius returns nodes of the given type meeting the
// bandwidth floors (inclusive, zero = ignore). The radius band is applied
// only when minRadius >= 0, maxRadius > 0, maxRadius > minRadius and a
// location is given.
func (r *Registry) MatchingBandwidthAndRadius(t models.NodeType, bwUp, bwDown float64, minRadius, maxRadius float64, loc *models.LatLng) []*models.StorageNode {
	var found []*models.StorageNode
	for _, n := range r.NodesOfType(t) {
		if bwUp > 0 && float64(n.BandwidthUp) < bwUp {
			continue
		}
		if bwDown > 0 && float64(n.BandwidthDown) < bwDown {
			continue
		}
		found = append(found, n)
	}

	if minRadius >= 0 && maxRadius > 0 && maxRadius > minRadius && loc != nil {
		var filtered []*models.StorageNode
		for _, n := range found {
			d := nodeDistance(n, loc)
			if d >= minRadius && d <= maxRadius {
				filtered = append(filtered, n)
			}
		}
		return filtered
	}
	return found
}

// RandomOfTypeMatchingBandwidth returns a random node of the type meeting
// the constraints, nil when none match.
func (r *Registry) RandomOfTypeMatchingBandwidth(t models.NodeType, bwUp, bwDown, minRadius, maxRadius float64, loc *models.LatLng) *models.StorageNode {
	return r.RandomFromList(r.MatchingBandwidthAndRadius(t, bwUp, bwDown, minRadius, maxRadius, loc))
}

// RandomMatchingBandwidthAndRadius searches every type bucket.
func (r *Registry) RandomMatchingBandwidthAndRadius(bwUp, bwDown, minRadius, maxRadius float64, loc *models.LatLng) *models.StorageNode {
	var results []*models.StorageNode
	for _, t := range AllNodeTypes {
		results = append(results, r.MatchingBandwidthAndRadius(t, bwUp, bwDown, minRadius, maxRadius, loc)...)
	}
	return r.RandomFromList(results)
}

// RandomOfTypesWithinRadius picks a random node of the given types within
// radius of loc, growing the radius by multiplier until max is reached.
// When nothing is found and a fallback type is set, a random node of that
// type is returned regardless of distance.
func (r *Registry) RandomOfTypesWithinRadius(types []models.NodeType, loc *models.LatLng, radius, max, multiplier float64, fallback models.NodeType) *models.StorageNode {
	nodes := r.NodesOfTypes(types)
	if len(nodes) == 0 {
		return nil
	}

	// A multiplier at or below 1, or a zero starting radius, would never
	// grow the search area.
	if multiplier <= 1 {
		multiplier = 2
	}
	if radius <= 0 {
		radius = 1
	}

	for {
		var results []*models.StorageNode
		for _, n := range nodes {
			if d := nodeDistance(n, loc); d >= 0 && d <= radius {
				results = append(results, n)
			}
		}
		if len(results) > 0 {
			return r.RandomFromList(results)
		}
		if radius < max && max > 0 {
			radius *= multiplier
			continue
		}
		break
	}

	if fallback != "" {
		return r.RandomOfTypeFromList(nodes, fallback)
	}
	return nil
}

// RandomOfTypeFromList picks a random node of type t from the list.
func (r *Registry) RandomOfTypeFromList(nodes []*models.StorageNode, t models.NodeType) *models.StorageNode {
	var ofType []*models.StorageNode
	for _, n := range nodes {
		if n.Type == t {
			ofType = append(ofType, n)
		}
	}
	return r.RandomFromList(ofType)
}

// NodesByUploadTime filters nodes of the given type down to those able to
// upload fileSize bytes within the duration limit. Nodes with unknown
// upstream bandwidth are excluded.
func (r *Registry) NodesByUploadTime(t models.NodeType, fileSize int64, seconds int) []*models.StorageNode {
	var out []*models.StorageNode
	for _, n := range r.NodesOfType(t) {
		if n.BandwidthUp <= 0 {
			continue
		}
		// file size in MiB divided by bandwidth in MiB/s
		duration := float64(fileSize) / (1024.0 * 1024.0) / (float64(n.BandwidthUp) / 8.0)
		if math.Ceil(duration) > float64(seconds) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// AllNodesByUploadTime is NodesByUploadTime across every type bucket.
func (r *Registry) AllNodesByUploadTime(fileSize int64, seconds int) []*models.StorageNode {
	var out []*models.StorageNode
	for _, t := range AllNodeTypes {
		out = append(out, r.NodesByUploadTime(t, fileSize, seconds)...)
	}
	return out
}
