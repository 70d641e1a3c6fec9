package models

// PlaceType categorizes a nearby place.
type PlaceType string

const (
	PlacePOI      PlaceType = "POI"
	PlaceShopping PlaceType = "SHOPPING"
	PlaceEvent    PlaceType = "EVENT"
	PlaceSocial   PlaceType = "SOCIAL"
	PlaceUnknown  PlaceType = "UNKNOWN"
)

// ActivityType classifies what the device carrier is doing.
type ActivityType string

const (
	ActivityStill     ActivityType = "STILL"
	ActivityWalking   ActivityType = "WALKING"
	ActivityInVehicle ActivityType = "IN_VEHICLE"
	ActivityUnknown   ActivityType = "UNKNOWN"
)

// Location is a sensed device position.
type Location struct {
	LatLng      LatLng  `json:"latlng"`
	Accuracy    float64 `json:"acc"`
	Description string  `json:"description,omitempty"`
	Timestamp   int64   `json:"time"`
}

// SinglePlace is one nearby place candidate with its likelihood.
type SinglePlace struct {
	ID         string    `json:"id,omitempty"`
	Name       string    `json:"name"`
	LatLng     LatLng    `json:"latlng"`
	Type       PlaceType `json:"type"`
	TypeText   string    `json:"typetext,omitempty"`
	Likelihood float64   `json:"likelihood"`
	IsLikely   bool      `json:"is_likely"`
	Distance   float64   `json:"-"`
}

// Places is the list of nearby place candidates.
type Places struct {
	List      []SinglePlace `json:"places"`
	Timestamp int64         `json:"time"`
}

// MostLikely returns the place flagged as most likely, falling back to the
// highest likelihood. Nil when the list is empty.
func (p *Places) MostLikely() *SinglePlace {
	if p == nil || len(p.List) == 0 {
		return nil
	}
	for i := range p.List {
		if p.List[i].IsLikely {
			return &p.List[i]
		}
	}
	best := 0
	for i := range p.List {
		if p.List[i].Likelihood > p.List[best].Likelihood {
			best = i
		}
	}
	return &p.List[best]
}

// FilterByLikelihood returns the places at or above the likelihood
// threshold.
func (p *Places) FilterByLikelihood(threshold float64) []SinglePlace {
	if p == nil {
		return nil
	}
	var out []SinglePlace
	for _, place := range p.List {
		if place.Likelihood >= threshold {
			out = append(out, place)
		}
	}
	return out
}

// Activity is an activity classification with confidence.
type Activity struct {
	Type       ActivityType `json:"activity"`
	Confidence int          `json:"confidence"`
	Timestamp  int64        `json:"time"`
}

// Matches reports whether both activities are of the same type.
func (a *Activity) Matches(other *Activity) bool {
	if a == nil || other == nil {
		return false
	}
	return a.Type == other.Type
}

// Network describes the current connectivity.
type Network struct {
	WifiConnected   bool   `json:"isWifiConnected"`
	WifiSSID        string `json:"wifiSsid,omitempty"`
	MobileConnected bool   `json:"isMobileConnected"`
	MobileFast      bool   `json:"isMobileNetworkFast"`
	MobileType      string `json:"mobileNetworkType,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// Matches reports whether the other network context matches this one.
// WiFi has priority: connected networks with the same SSID match, and the
// SSID "%" acts as a wildcard. Otherwise matching mobile connection types
// match, with an unset type on either side treated as a wildcard.
func (n *Network) Matches(other *Network) bool {
	if n == nil || other == nil {
		return false
	}
	if n.wifiMatches(other) {
		return true
	}
	if n.MobileConnected && other.MobileConnected {
		if n.MobileType == "" || other.MobileType == "" {
			return true
		}
		if n.MobileType == other.MobileType {
			return true
		}
	}
	return false
}

func (n *Network) wifiMatches(other *Network) bool {
	if !n.WifiConnected || !other.WifiConnected {
		return false
	}
	if n.WifiSSID == "" || other.WifiSSID == "" {
		return false
	}
	return n.WifiSSID == other.WifiSSID || n.WifiSSID == "%" || other.WifiSSID == "%"
}

// Noise is an ambient loudness measurement with thresholds.
type Noise struct {
	DB           float64 `json:"sound_db"`
	RMS          float64 `json:"sound_rms"`
	DBThreshold  float64 `json:"sound_db_thresh"`
	RMSThreshold float64 `json:"sound_rms_thresh"`
	Timestamp    int64   `json:"time"`
}

// IsSilent reports whether the measured loudness is below the threshold.
func (n *Noise) IsSilent() bool {
	return n.DB < n.DBThreshold
}

// Matches checks the other measurement against this context's threshold:
// both must be on the same side of it.
func (n *Noise) Matches(other *Noise) bool {
	if n == nil || other == nil {
		return false
	}
	return (other.DB > n.DBThreshold) == !n.IsSilent()
}

// ContextDescription is a point-in-time usage context snapshot. Every
// sub-context is independently nil; absence means "do not constrain on
// this dimension".
type ContextDescription struct {
	Location  *Location `json:"location,omitempty"`
	Places    *Places   `json:"places,omitempty"`
	Activity  *Activity `json:"activity,omitempty"`
	Network   *Network  `json:"network,omitempty"`
	Noise     *Noise    `json:"noise,omitempty"`
	Weekday   int       `json:"weekday,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// MostLikelyPlace is a nil-safe shortcut into the places list.
func (c *ContextDescription) MostLikelyPlace() *SinglePlace {
	if c == nil {
		return nil
	}
	return c.Places.MostLikely()
}

// HasLocation reports whether a position is attached.
func (c *ContextDescription) HasLocation() bool {
	return c != nil && c.Location != nil
}

// RuleContext is the optional context predicate attached to a rule.
type RuleContext struct {
	Location   *LatLng     `json:"location,omitempty"`
	Radius     int         `json:"radius,omitempty"`
	PlaceTypes []PlaceType `json:"placetypes,omitempty"`
	Activity   *Activity   `json:"activity,omitempty"`
	Network    *Network    `json:"network,omitempty"`
	Noise      *Noise      `json:"noise,omitempty"`
}

// HasLocation reports whether the rule constrains on position.
func (rc *RuleContext) HasLocation() bool {
	return rc != nil && rc.Location != nil
}

// HasPlaceTypes reports whether the rule constrains on place categories.
func (rc *RuleContext) HasPlaceTypes() bool {
	return rc != nil && len(rc.PlaceTypes) > 0
}

// ContainsPlaceType reports whether t is among the configured place types.
func (rc *RuleContext) ContainsPlaceType(t PlaceType) bool {
	if rc == nil {
		return false
	}
	for _, pt := range rc.PlaceTypes {
		if pt == t {
			return true
		}
	}
	return false
}
