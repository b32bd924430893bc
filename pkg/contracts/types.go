// Package contracts defines the shared data model of the detection ledger:
// identity records, video records, spread events, lineage, alert rules and
// alerts, plus the fixed-point conventions used on the wire.
//
// All fractional quantities are fixed-point integers so that independent
// nodes reproduce identical arithmetic: scores are basis points
// (10000 = 100%) and coordinates are micro-degrees (degrees x 1e6).
package contracts

import "time"

// BasisPointMax is the upper bound for score fields (100%).
const BasisPointMax = 10000

// GeoScale converts degrees to the micro-degree fixed-point representation.
const GeoScale = 1_000_000

// BasisPoints converts a 0–100 percentage to basis points, clamping to range.
func BasisPoints(percent float64) uint32 {
	bp := int64(percent * 100)
	if bp < 0 {
		bp = 0
	}
	if bp > BasisPointMax {
		bp = BasisPointMax
	}
	return uint32(bp)
}

// MicroDegrees converts a coordinate in degrees to the fixed-point scale.
func MicroDegrees(deg float64) int64 {
	return int64(deg * GeoScale)
}

// NodeClass categorizes an authorized node.
type NodeClass string

const (
	NodeClassEdge       NodeClass = "EDGE"
	NodeClassAggregator NodeClass = "AGGREGATOR"
	NodeClassAdmin      NodeClass = "ADMIN"
)

// IdentityRecord is the append-only registry entry for a node wallet.
// Deauthorization flips Active to false; the record is retained for audit.
type IdentityRecord struct {
	Address      Address   `json:"address"`
	DisplayName  string    `json:"display_name"`
	Class        NodeClass `json:"class"`
	AuthorizedAt time.Time `json:"authorized_at"`
	Active       bool      `json:"active"`
}

// VideoRecord is the record-of-truth for one analyzed content hash.
// Verdict fields are written exactly once, on first registration; later
// re-detections only move LastSeen and DetectionCount.
type VideoRecord struct {
	ContentHash    Hash      `json:"content_hash"`
	PerceptualHash string    `json:"perceptual_hash"`
	IsDeepfake     bool      `json:"is_deepfake"`
	ConfidenceBp   uint32    `json:"confidence_bp"`
	LipsyncBp      uint32    `json:"lipsync_bp"`
	FactCheckBp    uint32    `json:"fact_check_bp"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	DetectionCount uint64    `json:"detection_count"`
	OriginIPHash   Hash      `json:"origin_ip_hash"`
	OriginCountry  string    `json:"origin_country"`
	OriginCity     string    `json:"origin_city"`
	OriginLat      int64     `json:"origin_lat"` // micro-degrees
	OriginLon      int64     `json:"origin_lon"` // micro-degrees
	FirstSubmitter Address   `json:"first_submitter"`
	Metadata       string    `json:"metadata,omitempty"`
}

// SpreadEvent is one timestamped sighting of a content hash. Events are
// append-only per hash; ordering is submission order.
type SpreadEvent struct {
	ContentHash Hash      `json:"content_hash"`
	Time        time.Time `json:"time"`
	IPHash      Hash      `json:"ip_hash"`
	Country     string    `json:"country"`
	City        string    `json:"city"`
	Lat         int64     `json:"lat"`
	Lon         int64     `json:"lon"`
	Platform    string    `json:"platform"`
	SourceURL   string    `json:"source_url"`
	Reporter    Address   `json:"reporter"`
}

// LineageRecord tracks the parent→child derivation edge for a video.
// ParentHash is immutable once set; the zero hash marks a root/original.
type LineageRecord struct {
	ContentHash  Hash      `json:"content_hash"`
	ParentHash   Hash      `json:"parent_hash"`
	Generation   uint64    `json:"generation"`
	Mutations    []string  `json:"mutations,omitempty"`
	Children     []Hash    `json:"children,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// AlertType is the closed set of alert categories.
type AlertType string

const (
	AlertFirstDetection     AlertType = "FIRST_DETECTION"
	AlertReupload           AlertType = "REUPLOAD"
	AlertGeoSpread          AlertType = "GEO_SPREAD"
	AlertDetectionThreshold AlertType = "DETECTION_THRESHOLD"
	AlertViralSpread        AlertType = "VIRAL_SPREAD"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders severities for threshold comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// AlertRule holds the trigger thresholds. A per-video rule, once set, fully
// replaces the global one for that video (no field-by-field merge).
type AlertRule struct {
	DetectionThreshold uint64 `json:"detection_threshold"`
	SpreadThreshold    uint64 `json:"spread_threshold"`
	CountryThreshold   uint64 `json:"country_threshold"`
	ReuploadThreshold  uint64 `json:"reupload_threshold"`
	Enabled            bool   `json:"enabled"`
}

// DefaultAlertRule returns the genesis global rule.
func DefaultAlertRule() AlertRule {
	return AlertRule{
		DetectionThreshold: 100,
		SpreadThreshold:    50,
		CountryThreshold:   5,
		ReuploadThreshold:  3,
		Enabled:            true,
	}
}

// Alert is created by the alert engine only. It is immutable except for the
// acknowledgement fields, which transition exactly once from unset to set.
type Alert struct {
	ID             uint64    `json:"id"`
	ContentHash    Hash      `json:"content_hash"`
	Type           AlertType `json:"type"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
	Acknowledged   bool      `json:"acknowledged"`
	AcknowledgedBy Address   `json:"acknowledged_by,omitempty"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitempty"`
	TriggerIPHash  Hash      `json:"trigger_ip_hash"`
	TriggerCountry string    `json:"trigger_country,omitempty"`
}

// LedgerStats summarizes the video ledger.
type LedgerStats struct {
	Total          uint64 `json:"total"`
	DeepfakeCount  uint64 `json:"deepfake_count"`
	AuthenticCount uint64 `json:"authentic_count"`
}
