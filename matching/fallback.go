package matching

import (
	"github.com/vstore/vstore/common/models"
	"github.com/vstore/vstore/node"
)

// Likelihood thresholds for narrowing down the current place.
const (
	placeLikelihoodStart  = 0.3
	placeLikelihoodFloor  = 0.05
	placeLikelihoodStep   = 0.02
	eventNearestSpreading = 2
)

// fallbackNode is the deterministic heuristic used when no rule decides.
// It classifies the file by privacy, activity and the most likely nearby
// place and walks fixed node-type hierarchies.
func (e *Engine) fallbackNode(f *models.StoredFile) *models.StorageNode {
	if e.registry.NodeCount() == 0 {
		return nil
	}

	var loc *models.LatLng
	if f.Context.HasLocation() {
		loc = &f.Context.Location.LatLng
	}

	if f.IsPrivate {
		// Personal files never go to cloudlets or gateways.
		hierarchy := []models.NodeType{models.NodeTypePrivate, models.NodeTypeCoreNet, models.NodeTypeCloud}
		if loc != nil {
			return e.registry.FollowHierarchy(hierarchy, node.SelectNearest, loc)
		}
		return e.registry.FollowHierarchy(hierarchy, node.SelectRandom, nil)
	}

	// A user in a vehicle is just passing by, so nearby nodes make no
	// sense.
	if f.Context != nil && f.Context.Activity != nil && f.Context.Activity.Type == models.ActivityInVehicle {
		hierarchy := []models.NodeType{models.NodeTypeCoreNet, models.NodeTypeCloud}
		if loc != nil {
			return e.registry.FollowHierarchy(hierarchy, node.SelectNearest, loc)
		}
		return e.registry.FollowHierarchy(hierarchy, node.SelectRandom, nil)
	}

	place := e.currentPlace(f, loc)
	if place != nil {
		switch place.Type {
		case models.PlaceEvent:
			return e.fallbackAtEvent(f, loc)
		case models.PlacePOI:
			hierarchy := []models.NodeType{models.NodeTypeCoreNet, models.NodeTypeCloudlet, models.NodeTypeGateway, models.NodeTypeCloud}
			if loc != nil {
				return e.registry.FollowHierarchy(hierarchy, node.SelectNearest, loc)
			}
			return e.registry.FollowHierarchy(hierarchy, node.SelectRandom, nil)
		}
	}

	// Unknown place: the core net is the best tradeoff between sharing
	// locally and sharing with friends elsewhere.
	var n *models.StorageNode
	if loc != nil {
		n = e.registry.FollowHierarchy([]models.NodeType{models.NodeTypeCoreNet, models.NodeTypeCloud}, node.SelectNearest, loc)
	}
	if n == nil {
		n = e.registry.RandomOfTypes(models.NodeTypeCloudlet, models.NodeTypeGateway)
	}
	return n
}

// fallbackAtEvent stores near the event when it is loud there, assuming the
// user wants to share with the crowd; otherwise in the core net.
func (e *Engine) fallbackAtEvent(f *models.StoredFile, loc *models.LatLng) *models.StorageNode {
	noisy := f.Context != nil && f.Context.Noise != nil && !f.Context.Noise.IsSilent()
	if noisy {
		if loc != nil {
			// Pick among the nearest cloudlets/gateways randomly to avoid
			// overloading a single node at the event.
			if n := e.registry.NearestOfTypes([]models.NodeType{models.NodeTypeCloudlet, models.NodeTypeGateway}, loc, eventNearestSpreading); n != nil {
				return n
			}
			if n := e.registry.NearestOfType(models.NodeTypeCoreNet, loc); n != nil {
				return n
			}
			return e.registry.NearestOfType(models.NodeTypeCloud, loc)
		}
		return e.registry.RandomOfTypes(models.NodeTypeCloudlet, models.NodeTypeGateway)
	}

	hierarchy := []models.NodeType{models.NodeTypeCoreNet, models.NodeTypeCloud}
	if loc != nil {
		return e.registry.FollowHierarchy(hierarchy, node.SelectNearest, loc)
	}
	return e.registry.FollowHierarchy(hierarchy, node.SelectRandom, nil)
}

// currentPlace narrows the nearby places down to the one the user is most
// likely at, lowering the likelihood threshold gradually and breaking ties
// by distance when a location is known.
func (e *Engine) currentPlace(f *models.StoredFile, loc *models.LatLng) *models.SinglePlace {
	if f.Context == nil || f.Context.Places == nil {
		return nil
	}

	var filtered []models.SinglePlace
	for threshold := placeLikelihoodStart; len(filtered) == 0 && threshold > placeLikelihoodFloor; threshold -= placeLikelihoodStep {
		filtered = f.Context.Places.FilterByLikelihood(threshold)
	}
	if len(filtered) == 0 {
		return nil
	}

	best := &filtered[0]
	if len(filtered) == 1 {
		return best
	}
	if loc != nil {
		bestDist := node.Distance(&best.LatLng, loc)
		for i := 1; i < len(filtered); i++ {
			if d := node.Distance(&filtered[i].LatLng, loc); d < bestDist {
				best = &filtered[i]
				bestDist = d
			}
		}
		return best
	}
	for i := 1; i < len(filtered); i++ {
		if filtered[i].Likelihood > best.Likelihood {
			best = &filtered[i]
		}
	}
	return best
}
