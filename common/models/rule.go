package models

import (
	"encoding/json"
	"time"
)

// SharingDomain restricts a rule to private files, public files, or both.
type SharingDomain int

const (
	SharingPublic  SharingDomain = 0
	SharingPrivate SharingDomain = 1
	SharingAny     SharingDomain = -1
)

// Includes reports whether a file with the given privacy falls into the
// domain.
func (d SharingDomain) Includes(isPrivate bool) bool {
	switch d {
	case SharingPrivate:
		return isPrivate
	case SharingPublic:
		return !isPrivate
	default:
		return true
	}
}

// DecisionLayer is one ranked storage alternative within a rule. Either a
// specific node is configured, or a constraint bundle over type, radius and
// bandwidth.
type DecisionLayer struct {
	IsSpecific     bool     `json:"isSpecific"`
	SpecificNodeID string   `json:"specificNodeId"`
	TargetType     NodeType `json:"selectedType"`
	MinRadius      float64  `json:"minRadius"`
	MaxRadius      float64  `json:"maxRadius"`
	MinBwUp        int      `json:"minBwUp"`
	MinBwDown      int      `json:"minBwDown"`
}

// UnmarshalJSON fills absent fields with their defaults, in particular
// TargetType Unknown.
func (l *DecisionLayer) UnmarshalJSON(data []byte) error {
	type alias DecisionLayer
	a := alias{TargetType: NodeTypeUnknown}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.TargetType == "" {
		a.TargetType = NodeTypeUnknown
	}
	*l = DecisionLayer(a)
	return nil
}

// HasRadiusConstraint reports whether a usable radius band is configured.
func (l *DecisionLayer) HasRadiusConstraint() bool {
	return l.MinRadius >= 0 && l.MaxRadius > 0
}

// HasBandwidthConstraint reports whether any bandwidth floor is configured.
func (l *DecisionLayer) HasBandwidthConstraint() bool {
	return l.MinBwUp > 0 || l.MinBwDown > 0
}

// Unconstrained reports whether neither radius nor bandwidth is configured.
func (l *DecisionLayer) Unconstrained() bool {
	return l.MinRadius == 0 && l.MaxRadius == 0 && l.MinBwUp == 0 && l.MinBwDown == 0
}

// Scoring weight keys as persisted in a rule's scoring map.
const (
	ScoreKeyLocation      = "s_location"
	ScoreKeyWeekdays      = "s_weekdays"
	ScoreKeyTimespan      = "s_timespan"
	ScoreKeyPlaces        = "s_places"
	ScoreKeySharingDomain = "s_sharingd"
	ScoreKeyActivity      = "s_activity"
	ScoreKeyNetwork       = "s_network"
	ScoreKeyNoise         = "s_noise"
)

// DefaultContextScores returns the weight map used when a rule carries no
// persisted scoring.
func DefaultContextScores() map[string]float64 {
	return map[string]float64{
		ScoreKeyLocation:      20,
		ScoreKeyWeekdays:      15,
		ScoreKeyTimespan:      10,
		ScoreKeyPlaces:        15,
		ScoreKeySharingDomain: 10,
		ScoreKeyActivity:      10,
		ScoreKeyNetwork:       10,
		ScoreKeyNoise:         10,
	}
}

// DecisionRule maps a context predicate to an ordered list of storage
// alternatives.
type DecisionRule struct {
	ID                string             `json:"uuid"`
	Name              string             `json:"name"`
	CreatedAt         time.Time          `json:"-"`
	Context           *RuleContext       `json:"context,omitempty"`
	MimeTypes         []string           `json:"mimetypes,omitempty"`
	MinFileSize       int64              `json:"filesize"`
	SharingDomain     SharingDomain      `json:"sharingDomain"`
	Weekdays          []int              `json:"weekdays,omitempty"`
	StartHour         int                `json:"startHour"`
	StartMinute       int                `json:"startMinute"`
	EndHour           int                `json:"endHour"`
	EndMinute         int                `json:"endMinute"`
	DecisionLayers    []DecisionLayer    `json:"decisions"`
	IsGlobal          bool               `json:"isGlobal"`
	StoreMultiple     bool               `json:"storeMultiple"`
	ReplicationFactor int                `json:"replicationFactor"`
	ContextScores     map[string]float64 `json:"scoring,omitempty"`
	DetailScore       float64            `json:"detailScore"`
}

// HasTimeWindow reports whether the rule restricts to a daily time window.
// All four fields zero means no window.
func (r *DecisionRule) HasTimeWindow() bool {
	return r.StartHour != 0 || r.StartMinute != 0 || r.EndHour != 0 || r.EndMinute != 0
}

// InTimeWindow reports whether the given clock time falls in [start, end).
func (r *DecisionRule) InTimeWindow(hour, minute int) bool {
	t := hour*60 + minute
	start := r.StartHour*60 + r.StartMinute
	end := r.EndHour*60 + r.EndMinute
	return t >= start && t < end
}

// AppliesOnWeekday reports whether the rule applies on the given ISO weekday
// (1 = Monday .. 7 = Sunday). An empty weekday set applies on any day.
func (r *DecisionRule) AppliesOnWeekday(day int) bool {
	if len(r.Weekdays) == 0 {
		return true
	}
	for _, d := range r.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// MatchesMimeType reports whether the rule triggers for the mime type. An
// empty set matches everything.
func (r *DecisionRule) MatchesMimeType(mime string) bool {
	if len(r.MimeTypes) == 0 {
		return true
	}
	for _, m := range r.MimeTypes {
		if m == mime {
			return true
		}
	}
	return false
}

// CalculateDetailScore computes the rule's specificity as the sum of the
// weights of every context dimension the rule actually constrains on.
// Weights come from the rule's scoring map, falling back to defaults for
// missing keys.
func (r *DecisionRule) CalculateDetailScore() float64 {
	weights := DefaultContextScores()
	for k, v := range r.ContextScores {
		weights[k] = v
	}
	var score float64
	if r.Context.HasLocation() {
		score += weights[ScoreKeyLocation]
	}
	if len(r.Weekdays) > 0 {
		score += weights[ScoreKeyWeekdays]
		if r.HasTimeWindow() {
			score += weights[ScoreKeyTimespan]
		}
	}
	if r.SharingDomain == SharingPrivate || r.SharingDomain == SharingPublic {
		score += weights[ScoreKeySharingDomain]
	}
	if r.Context.HasPlaceTypes() {
		score += weights[ScoreKeyPlaces]
	}
	if r.Context != nil && r.Context.Activity != nil {
		score += weights[ScoreKeyActivity]
	}
	if r.Context != nil && r.Context.Network != nil {
		score += weights[ScoreKeyNetwork]
	}
	if r.Context != nil && r.Context.Noise != nil {
		score += weights[ScoreKeyNoise]
	}
	return score
}

// RefreshDetailScore recomputes and stores the detail score.
func (r *DecisionRule) RefreshDetailScore() {
	r.DetailScore = r.CalculateDetailScore()
}
