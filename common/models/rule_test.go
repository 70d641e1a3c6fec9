package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionLayerDefaults(t *testing.T) {
	var layer DecisionLayer
	require.NoError(t, json.Unmarshal([]byte(`{}`), &layer))
	assert.Equal(t, NodeTypeUnknown, layer.TargetType)
	assert.False(t, layer.IsSpecific)
	assert.True(t, layer.Unconstrained())
}

func TestDecisionLayerFromWire(t *testing.T) {
	raw := `{
		"isSpecific": false,
		"selectedType": "CLOUDLET",
		"minRadius": 0,
		"maxRadius": 2000,
		"minBwUp": 10,
		"minBwDown": 0
	}`
	var layer DecisionLayer
	require.NoError(t, json.Unmarshal([]byte(raw), &layer))
	assert.Equal(t, NodeTypeCloudlet, layer.TargetType)
	assert.True(t, layer.HasRadiusConstraint())
	assert.True(t, layer.HasBandwidthConstraint())
	assert.False(t, layer.Unconstrained())
}

func TestSharingDomainIncludes(t *testing.T) {
	assert.True(t, SharingPrivate.Includes(true))
	assert.False(t, SharingPrivate.Includes(false))
	assert.True(t, SharingPublic.Includes(false))
	assert.False(t, SharingPublic.Includes(true))
	assert.True(t, SharingAny.Includes(true))
	assert.True(t, SharingAny.Includes(false))
}

func TestHasTimeWindow(t *testing.T) {
	var r DecisionRule
	assert.False(t, r.HasTimeWindow())

	r.EndMinute = 1
	assert.True(t, r.HasTimeWindow(), "any nonzero field makes a window")
}

func TestInTimeWindowHalfOpen(t *testing.T) {
	r := DecisionRule{StartHour: 9, EndHour: 17}
	assert.True(t, r.InTimeWindow(9, 0))
	assert.True(t, r.InTimeWindow(16, 59))
	assert.False(t, r.InTimeWindow(17, 0))
	assert.False(t, r.InTimeWindow(8, 59))
}

func TestAppliesOnWeekday(t *testing.T) {
	r := DecisionRule{Weekdays: []int{1, 5}}
	assert.True(t, r.AppliesOnWeekday(1))
	assert.False(t, r.AppliesOnWeekday(3))

	unrestricted := DecisionRule{}
	assert.True(t, unrestricted.AppliesOnWeekday(3))
}

func TestMatchesMimeType(t *testing.T) {
	r := DecisionRule{MimeTypes: []string{"image/jpeg", "image/png"}}
	assert.True(t, r.MatchesMimeType("image/png"))
	assert.False(t, r.MatchesMimeType("video/mp4"))

	catchAll := DecisionRule{}
	assert.True(t, catchAll.MatchesMimeType("video/mp4"))
}

func TestCalculateDetailScoreDefaults(t *testing.T) {
	r := DecisionRule{
		Context: &RuleContext{
			Location:   &LatLng{Lat: 49.87, Lng: 8.65},
			PlaceTypes: []PlaceType{PlaceEvent},
		},
		Weekdays:  []int{6, 7},
		StartHour: 9, EndHour: 17,
		SharingDomain: SharingPrivate,
	}
	// location 20 + weekdays 15 + timespan 10 + places 15 + sharing 10
	assert.Equal(t, float64(70), r.CalculateDetailScore())
}

func TestCalculateDetailScoreTimespanNeedsWeekdays(t *testing.T) {
	r := DecisionRule{StartHour: 9, EndHour: 17, SharingDomain: SharingAny}
	assert.Equal(t, float64(0), r.CalculateDetailScore(),
		"a time window without weekdays never applies, so it scores nothing")
}

func TestCalculateDetailScoreCustomWeights(t *testing.T) {
	r := DecisionRule{
		Context:       &RuleContext{Location: &LatLng{Lat: 1, Lng: 1}},
		SharingDomain: SharingAny,
		ContextScores: map[string]float64{ScoreKeyLocation: 42},
	}
	assert.Equal(t, float64(42), r.CalculateDetailScore())
}

func TestRefreshDetailScore(t *testing.T) {
	r := DecisionRule{
		Context:       &RuleContext{Network: &Network{WifiConnected: true, WifiSSID: "%"}},
		SharingDomain: SharingAny,
		DetailScore:   999,
	}
	r.RefreshDetailScore()
	assert.Equal(t, float64(10), r.DetailScore)
}

func TestRuleWireRoundTrip(t *testing.T) {
	raw := `{
		"uuid": "r1",
		"name": "photos at home",
		"context": {"location": {"lat": 49.87, "lng": 8.65}, "radius": 500},
		"mimetypes": ["image/jpeg"],
		"filesize": 0,
		"sharingDomain": 1,
		"weekdays": [6, 7],
		"decisions": [{"isSpecific": false, "selectedType": "OWNCLOUD"}],
		"storeMultiple": false,
		"replicationFactor": 1,
		"scoring": {"s_location": 25}
	}`
	var r DecisionRule
	require.NoError(t, json.Unmarshal([]byte(raw), &r))

	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, SharingPrivate, r.SharingDomain)
	require.Len(t, r.DecisionLayers, 1)
	assert.Equal(t, NodeTypePrivate, r.DecisionLayers[0].TargetType)
	assert.Equal(t, 500, r.Context.Radius)
	// location 25 (custom) + weekdays 15 + sharing 10
	assert.Equal(t, float64(50), r.CalculateDetailScore())
}
