package matching

import (
	"github.com/vstore/vstore/common/models"
)

// resolution is the terminal state of evaluating one rule's layers.
type resolution int

const (
	// resolutionNone means the rule exhausted all layers without a node;
	// the caller may try the next rule.
	resolutionNone resolution = iota
	// resolutionNodes means at least one node was decided.
	resolutionNodes
	// resolutionPhoneOnly is the explicit "stop, store locally" sentinel.
	resolutionPhoneOnly
)

// resolveRule walks the rule's decision layers in order, appending decided
// nodes to the decision. In storeMultiple mode every layer contributes an
// entry (nil when it yielded nothing) until the replication factor is met;
// otherwise the first usable node wins.
func (e *Engine) resolveRule(rule *models.DecisionRule, f *models.StoredFile, d *Decision) resolution {
	var fileLoc *models.LatLng
	if f.Context.HasLocation() {
		fileLoc = &f.Context.Location.LatLng
	}

	replication := rule.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}

	for i, layer := range rule.DecisionLayers {
		if len(d.ValidNodes) >= replication {
			return resolutionNodes
		}

		// Phone or Unknown target means no remote node for this layer.
		if layer.TargetType.IsDeviceSentinel() {
			if rule.StoreMultiple {
				d.DecidedNodes = append(d.DecidedNodes, nil)
				continue
			}
			d.UsedLayer = i
			return resolutionPhoneOnly
		}

		// A specific node id wins outright when the registry knows it.
		if layer.IsSpecific && layer.SpecificNodeID != "" {
			if n := e.registry.GetNode(layer.SpecificNodeID); n != nil {
				d.accept(n, i)
				if !rule.StoreMultiple {
					return resolutionNodes
				}
				continue
			}
		}

		// Target type None with bandwidth constraints searches all types.
		if layer.TargetType == models.NodeTypeNone &&
			(layer.MaxRadius > 0 || layer.HasBandwidthConstraint()) {
			if layer.HasBandwidthConstraint() {
				n := e.registry.RandomMatchingBandwidthAndRadius(
					float64(layer.MinBwUp), float64(layer.MinBwDown),
					layer.MinRadius, layer.MaxRadius, fileLoc)
				if n != nil {
					d.accept(n, i)
					if !rule.StoreMultiple {
						return resolutionNodes
					}
					continue
				}
				if rule.StoreMultiple {
					d.DecidedNodes = append(d.DecidedNodes, nil)
				}
				continue
			}
		}

		// No constraints at all: any node of the target type will do.
		if layer.Unconstrained() {
			n := e.registry.RandomOfTypes(layer.TargetType)
			if n != nil {
				d.accept(n, i)
				if !rule.StoreMultiple {
					return resolutionNodes
				}
				continue
			}
			if rule.StoreMultiple {
				d.DecidedNodes = append(d.DecidedNodes, nil)
			}
			continue
		}

		// A radius band, taking bandwidth floors into account when set. On
		// a miss this deliberately falls through to the bandwidth-only
		// search below.
		if layer.HasRadiusConstraint() {
			n := e.registry.RandomOfTypeMatchingBandwidth(
				layer.TargetType,
				float64(layer.MinBwUp), float64(layer.MinBwDown),
				layer.MinRadius, layer.MaxRadius, fileLoc)
			if n != nil {
				d.accept(n, i)
				if !rule.StoreMultiple {
					return resolutionNodes
				}
				continue
			}
		}

		// Bandwidth floors alone.
		if layer.HasBandwidthConstraint() {
			n := e.registry.RandomOfTypeMatchingBandwidth(
				layer.TargetType,
				float64(layer.MinBwUp), float64(layer.MinBwDown),
				0, 0, nil)
			if n != nil {
				d.accept(n, i)
				if !rule.StoreMultiple {
					return resolutionNodes
				}
				continue
			}
		}

		if rule.StoreMultiple {
			d.DecidedNodes = append(d.DecidedNodes, nil)
		}
	}

	if len(d.ValidNodes) > 0 {
		return resolutionNodes
	}
	return resolutionNone
}
