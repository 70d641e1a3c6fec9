package matching

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstore/vstore/common/models"
	"github.com/vstore/vstore/node"
)

// aMonday is 2025-06-02 10:30, a Monday.
var aMonday = time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)

func testFile() *models.StoredFile {
	return &models.StoredFile{
		ID:       "f1",
		MimeType: "image/jpeg",
		Size:     2 * 1024 * 1024,
		Context:  &models.ContextDescription{},
	}
}

func ruleNamed(name string) *models.DecisionRule {
	return &models.DecisionRule{
		ID:            name,
		Name:          name,
		SharingDomain: models.SharingAny,
		DecisionLayers: []models.DecisionLayer{
			{TargetType: models.NodeTypeCloud},
		},
	}
}

func TestFilterMinFileSize(t *testing.T) {
	small := testFile()
	small.Size = 100

	r := ruleNamed("big-files")
	r.MinFileSize = 1024

	assert.Empty(t, filterRules([]*models.DecisionRule{r}, small, aMonday))

	big := testFile()
	big.Size = 2048
	assert.Len(t, filterRules([]*models.DecisionRule{r}, big, aMonday), 1)

	// Zero means unconstrained.
	r.MinFileSize = 0
	assert.Len(t, filterRules([]*models.DecisionRule{r}, small, aMonday), 1)
}

func TestFilterSharingDomain(t *testing.T) {
	private := testFile()
	private.IsPrivate = true
	public := testFile()

	r := ruleNamed("private-only")
	r.SharingDomain = models.SharingPrivate
	assert.Len(t, filterRules([]*models.DecisionRule{r}, private, aMonday), 1)
	assert.Empty(t, filterRules([]*models.DecisionRule{r}, public, aMonday))

	r.SharingDomain = models.SharingPublic
	assert.Empty(t, filterRules([]*models.DecisionRule{r}, private, aMonday))
	assert.Len(t, filterRules([]*models.DecisionRule{r}, public, aMonday), 1)

	r.SharingDomain = models.SharingAny
	assert.Len(t, filterRules([]*models.DecisionRule{r}, private, aMonday), 1)
	assert.Len(t, filterRules([]*models.DecisionRule{r}, public, aMonday), 1)
}

func TestFilterWeekdays(t *testing.T) {
	f := testFile()

	r := ruleNamed("weekend")
	r.Weekdays = []int{6, 7}
	assert.Empty(t, filterRules([]*models.DecisionRule{r}, f, aMonday), "Monday is not a weekend")

	r.Weekdays = []int{1}
	assert.Len(t, filterRules([]*models.DecisionRule{r}, f, aMonday), 1)

	// No weekdays configured applies every day.
	r.Weekdays = nil
	assert.Len(t, filterRules([]*models.DecisionRule{r}, f, aMonday), 1)
}

func TestFilterTimeWindow(t *testing.T) {
	f := testFile()

	r := ruleNamed("morning")
	r.Weekdays = []int{1}
	r.StartHour, r.StartMinute = 9, 0
	r.EndHour, r.EndMinute = 12, 0
	assert.Len(t, filterRules([]*models.DecisionRule{r}, f, aMonday), 1)

	// The end of the window is exclusive.
	noon := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	assert.Empty(t, filterRules([]*models.DecisionRule{r}, f, noon))

	// The start is inclusive.
	nine := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	assert.Len(t, filterRules([]*models.DecisionRule{r}, f, nine), 1)

	// An all-zero window does not constrain the time of day.
	r.StartHour, r.StartMinute, r.EndHour, r.EndMinute = 0, 0, 0, 0
	assert.Len(t, filterRules([]*models.DecisionRule{r}, f, noon), 1)
}

func TestFilterLocationRadiusCeiling(t *testing.T) {
	ruleLoc := &models.LatLng{Lat: 49.87, Lng: 8.65}
	fileLoc := models.LatLng{Lat: 49.88, Lng: 8.65}
	dist := node.Distance(ruleLoc, &fileLoc)
	require.Greater(t, dist, 0.0)

	f := testFile()
	f.Context.Location = &models.Location{LatLng: fileLoc}

	r := ruleNamed("nearby")
	r.Context = &models.RuleContext{Location: ruleLoc, Radius: int(math.Ceil(dist))}
	assert.Len(t, filterRules([]*models.DecisionRule{r}, f, aMonday), 1,
		"distance rounded up to the radius is inside")

	r.Context.Radius = int(math.Ceil(dist)) - 1
	assert.Empty(t, filterRules([]*models.DecisionRule{r}, f, aMonday))
}

func TestFilterLocationSkippedWithoutBothSides(t *testing.T) {
	r := ruleNamed("located")
	r.Context = &models.RuleContext{Location: &models.LatLng{Lat: 49.87, Lng: 8.65}, Radius: 10}

	// A file with no location is not eliminated by a location rule.
	assert.Len(t, filterRules([]*models.DecisionRule{r}, testFile(), aMonday), 1)
}

func TestFilterPlaceTypes(t *testing.T) {
	f := testFile()
	f.Context.Places = &models.Places{List: []models.SinglePlace{
		{ID: "p1", Type: models.PlaceEvent, Likelihood: 0.9, IsLikely: true},
		{ID: "p2", Type: models.PlacePOI, Likelihood: 0.95},
	}}

	r := ruleNamed("at-events")
	r.Context = &models.RuleContext{PlaceTypes: []models.PlaceType{models.PlaceEvent}}
	assert.Len(t, filterRules([]*models.DecisionRule{r}, f, aMonday), 1,
		"the is_likely flag beats a higher likelihood")

	r.Context.PlaceTypes = []models.PlaceType{models.PlaceShopping}
	assert.Empty(t, filterRules([]*models.DecisionRule{r}, f, aMonday))

	// A place rule needs places in the file context.
	assert.Empty(t, filterRules([]*models.DecisionRule{r}, testFile(), aMonday))
}

func TestFilterNetwork(t *testing.T) {
	f := testFile()
	f.Context.Network = &models.Network{WifiConnected: true, WifiSSID: "homenet"}

	r := ruleNamed("on-wifi")
	r.Context = &models.RuleContext{Network: &models.Network{WifiConnected: true, WifiSSID: "homenet"}}
	assert.Len(t, filterRules([]*models.DecisionRule{r}, f, aMonday), 1)

	r.Context.Network.WifiSSID = "othernet"
	assert.Empty(t, filterRules([]*models.DecisionRule{r}, f, aMonday))

	// "%" matches any connected WiFi.
	r.Context.Network.WifiSSID = "%"
	assert.Len(t, filterRules([]*models.DecisionRule{r}, f, aMonday), 1)
}

func TestFilterNoise(t *testing.T) {
	loud := testFile()
	loud.Context.Noise = &models.Noise{DB: 80}

	// A "must be silent" rule: threshold above its own level.
	r := ruleNamed("quiet")
	r.Context = &models.RuleContext{Noise: &models.Noise{DB: 10, DBThreshold: 50}}
	assert.Empty(t, filterRules([]*models.DecisionRule{r}, loud, aMonday))

	quiet := testFile()
	quiet.Context.Noise = &models.Noise{DB: 30}
	assert.Len(t, filterRules([]*models.DecisionRule{r}, quiet, aMonday), 1)
}

func TestSortRulesByScoreStable(t *testing.T) {
	a := ruleNamed("a")
	a.DetailScore = 30
	b := ruleNamed("b")
	b.DetailScore = 45
	c := ruleNamed("c")
	c.DetailScore = 30

	rules := []*models.DecisionRule{a, b, c}
	sortRulesByScore(rules)

	assert.Equal(t, "b", rules[0].ID)
	assert.Equal(t, "a", rules[1].ID, "equal scores keep input order")
	assert.Equal(t, "c", rules[2].ID)
}

func TestIsoWeekday(t *testing.T) {
	assert.Equal(t, 1, isoWeekday(aMonday))
	sunday := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 7, isoWeekday(sunday))
}
