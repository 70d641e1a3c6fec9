package node

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vstore/vstore/common/models"
)

func TestDistanceMissingCoordinate(t *testing.T) {
	p := &models.LatLng{Lat: 49.87, Lng: 8.65}
	assert.Equal(t, float64(-1), Distance(nil, p))
	assert.Equal(t, float64(-1), Distance(p, nil))
	assert.Equal(t, float64(-1), Distance(nil, nil))
}

func TestDistanceKnownValue(t *testing.T) {
	// 0.01 degrees of latitude on a meridian is 0.6 nautical miles.
	a := &models.LatLng{Lat: 0, Lng: 0}
	b := &models.LatLng{Lat: 0.01, Lng: 0}

	want := 0.6 * statuteMilesPerNauticalMile * 1609.34
	assert.InDelta(t, want, Distance(a, b), 0.5)
}

func TestDistanceSymmetric(t *testing.T) {
	a := &models.LatLng{Lat: 49.8728, Lng: 8.6512}
	b := &models.LatLng{Lat: 50.1109, Lng: 8.6821}
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
}

func TestDistanceGrowsWithSeparation(t *testing.T) {
	origin := &models.LatLng{Lat: 49.87, Lng: 8.65}
	near := &models.LatLng{Lat: 49.88, Lng: 8.65}
	far := &models.LatLng{Lat: 50.10, Lng: 8.65}
	assert.Less(t, Distance(origin, near), Distance(origin, far))
}

func TestSortByDistanceMetric(t *testing.T) {
	nodes := []*models.StorageNode{
		{ID: "cloud", Type: models.NodeTypeCloud},
		{ID: "core", Type: models.NodeTypeCoreNet},
		{ID: "edge1", Type: models.NodeTypeCloudlet},
		{ID: "gw", Type: models.NodeTypeGateway},
		{ID: "edge2", Type: models.NodeTypeCloudlet},
	}
	SortByDistanceMetric(nodes)

	got := make([]string, len(nodes))
	for i, n := range nodes {
		got[i] = n.ID
	}
	// Stable: edge1 stays ahead of edge2.
	assert.Equal(t, []string{"edge1", "edge2", "gw", "core", "cloud"}, got)
}

func TestDistanceMetricUnknownRanksLikeCloud(t *testing.T) {
	assert.Equal(t, DistanceMetric(models.NodeTypeCloud), DistanceMetric(models.NodeTypeUnknown))
	assert.Equal(t, DistanceMetric(models.NodeTypeCloud), DistanceMetric(models.NodeTypePrivate))
}
