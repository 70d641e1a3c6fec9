package matching

import (
	"math"
	"sort"
	"time"

	"github.com/vstore/vstore/common/models"
	"github.com/vstore/vstore/node"
)

// filterRules returns the rules that apply to the file under its context,
// as a new slice. A rule survives only if every configured constraint
// matches; an unconfigured constraint never eliminates.
func filterRules(rules []*models.DecisionRule, f *models.StoredFile, now time.Time) []*models.DecisionRule {
	kept := make([]*models.DecisionRule, 0, len(rules))
	for _, r := range rules {
		if keepRule(r, f, now) {
			kept = append(kept, r)
		}
	}
	return kept
}

func keepRule(r *models.DecisionRule, f *models.StoredFile, now time.Time) bool {
	return checkFileSize(r, f) &&
		checkSharingDomain(r, f) &&
		checkDayTime(r, now) &&
		checkLocation(r, f) &&
		checkPlaces(r, f) &&
		checkNetwork(r, f) &&
		checkActivity(r, f) &&
		checkNoise(r, f)
}

func checkFileSize(r *models.DecisionRule, f *models.StoredFile) bool {
	return !(r.MinFileSize > 0 && f.Size < r.MinFileSize)
}

func checkSharingDomain(r *models.DecisionRule, f *models.StoredFile) bool {
	return r.SharingDomain.Includes(f.IsPrivate)
}

// checkDayTime drops a rule whose weekday set excludes today, or whose time
// window excludes the current time. A rule with an all-zero window has no
// window at all.
func checkDayTime(r *models.DecisionRule, now time.Time) bool {
	if len(r.Weekdays) == 0 {
		return true
	}
	if !r.AppliesOnWeekday(isoWeekday(now)) {
		return false
	}
	if r.HasTimeWindow() && !r.InTimeWindow(now.Hour(), now.Minute()) {
		return false
	}
	return true
}

// checkLocation applies the rule's radius: the distance from the rule's
// point to the file's location is rounded up before comparing, so the
// boundary is exact at integer radii.
func checkLocation(r *models.DecisionRule, f *models.StoredFile) bool {
	if !r.Context.HasLocation() || !f.Context.HasLocation() {
		return true
	}
	distance := node.Distance(r.Context.Location, &f.Context.Location.LatLng)
	return math.Ceil(distance) <= float64(r.Context.Radius)
}

func checkPlaces(r *models.DecisionRule, f *models.StoredFile) bool {
	if !r.Context.HasPlaceTypes() {
		return true
	}
	place := f.Context.MostLikelyPlace()
	if place == nil {
		return false
	}
	return r.Context.ContainsPlaceType(place.Type)
}

func checkNetwork(r *models.DecisionRule, f *models.StoredFile) bool {
	if r.Context == nil || r.Context.Network == nil {
		return true
	}
	if f.Context == nil || f.Context.Network == nil {
		return true
	}
	return f.Context.Network.Matches(r.Context.Network)
}

func checkActivity(r *models.DecisionRule, f *models.StoredFile) bool {
	if r.Context == nil || r.Context.Activity == nil {
		return true
	}
	if f.Context == nil || f.Context.Activity == nil {
		return true
	}
	return f.Context.Activity.Matches(r.Context.Activity)
}

// checkNoise matches the file's measured loudness against the rule's
// threshold: a "must be silent" rule drops loud contexts and vice versa.
func checkNoise(r *models.DecisionRule, f *models.StoredFile) bool {
	if r.Context == nil || r.Context.Noise == nil {
		return true
	}
	if f.Context == nil || f.Context.Noise == nil {
		return true
	}
	return r.Context.Noise.Matches(f.Context.Noise)
}

// sortRulesByScore orders rules by descending detail score. The sort is
// stable: equal-score rules preserve their input order.
func sortRulesByScore(rules []*models.DecisionRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].DetailScore > rules[j].DetailScore
	})
}

// isoWeekday maps time.Weekday to 1 = Monday .. 7 = Sunday.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
