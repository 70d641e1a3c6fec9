package node

import (
	"math"

	"github.com/vstore/vstore/common/models"
)

const statuteMilesPerNauticalMile = 1.15077945

// Distance returns the great-circle distance between two coordinates in
// meters, using the spherical law of cosines. Returns -1 when either
// coordinate is missing. Rule radius comparisons are sensitive at small
// radii, so the formula must stay exactly this one.
func Distance(a, b *models.LatLng) float64 {
	if a == nil || b == nil {
		return -1
	}

	lat1 := a.Lat * math.Pi / 180
	lon1 := a.Lng * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	lon2 := b.Lng * math.Pi / 180

	angle := math.Acos(math.Sin(lat1)*math.Sin(lat2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Cos(lon1-lon2))

	// each degree on a great circle of Earth is 60 nautical miles
	nauticalMiles := 60 * (angle * 180 / math.Pi)
	statuteMiles := statuteMilesPerNauticalMile * nauticalMiles
	return statuteMiles * 1609.34
}

// nodeDistance is Distance against a node's location, -1 when the node has
// none.
func nodeDistance(n *models.StorageNode, loc *models.LatLng) float64 {
	if n == nil {
		return -1
	}
	return Distance(n.Location, loc)
}
