package chain

import "github.com/sentinelmesh/core/pkg/contracts"

// EventType is the closed set of event kinds committed to the chain log.
// Event names and payload shapes are part of the public surface: downstream
// consumers (notifiers, exporters, replicas) key off them.
type EventType string

const (
	EventVideoRegistered      EventType = "VideoRegistered"
	EventDeepfakeDetected     EventType = "DeepfakeDetected"
	EventVideoRedetected      EventType = "VideoRedetected"
	EventSpreadRecorded       EventType = "SpreadEventRecorded"
	EventSameIPReupload       EventType = "SameIPReupload"
	EventNewLocationSpread    EventType = "NewLocationSpread"
	EventViralSpreadWarning   EventType = "ViralSpreadWarning"
	EventLineageRegistered    EventType = "LineageRegistered"
	EventAlertCreated         EventType = "AlertCreated"
	EventAlertAcknowledged    EventType = "AlertAcknowledged"
	EventNodeAuthorized       EventType = "NodeAuthorized"
	EventNodeDeauthorized     EventType = "NodeDeauthorized"
	EventOwnershipTransferred EventType = "OwnershipTransferred"
	EventRulesUpdated         EventType = "RulesUpdated"
)

// VideoRegisteredEvent is emitted on the first registration of a video
// with an authentic verdict. It carries the full registration so the
// record can be rebuilt from the log alone.
type VideoRegisteredEvent struct {
	ContentHash    contracts.Hash    `json:"content_hash"`
	PerceptualHash string            `json:"perceptual_hash,omitempty"`
	ConfidenceBp   uint32            `json:"confidence_bp"`
	LipsyncBp      uint32            `json:"lipsync_bp,omitempty"`
	FactCheckBp    uint32            `json:"fact_check_bp,omitempty"`
	IPHash         contracts.Hash    `json:"ip_hash"`
	Country        string            `json:"country"`
	City           string            `json:"city,omitempty"`
	Lat            int64             `json:"lat,omitempty"`
	Lon            int64             `json:"lon,omitempty"`
	Metadata       string            `json:"metadata,omitempty"`
	Submitter      contracts.Address `json:"submitter"`
}

// DeepfakeDetectedEvent is emitted on the first registration of a video
// with a deepfake verdict. It carries the full registration so the record
// can be rebuilt from the log alone.
type DeepfakeDetectedEvent struct {
	ContentHash    contracts.Hash    `json:"content_hash"`
	PerceptualHash string            `json:"perceptual_hash,omitempty"`
	ConfidenceBp   uint32            `json:"confidence_bp"`
	LipsyncBp      uint32            `json:"lipsync_bp,omitempty"`
	FactCheckBp    uint32            `json:"fact_check_bp,omitempty"`
	IPHash         contracts.Hash    `json:"ip_hash"`
	Country        string            `json:"country"`
	City           string            `json:"city,omitempty"`
	Lat            int64             `json:"lat,omitempty"`
	Lon            int64             `json:"lon,omitempty"`
	Metadata       string            `json:"metadata,omitempty"`
	Submitter      contracts.Address `json:"submitter"`
}

// VideoRedetectedEvent is emitted on every re-registration of a known hash.
type VideoRedetectedEvent struct {
	ContentHash    contracts.Hash    `json:"content_hash"`
	DetectionCount uint64            `json:"detection_count"`
	Submitter      contracts.Address `json:"submitter"`
}

// SpreadRecordedEvent is emitted for every accepted sighting. Like
// DeepfakeDetectedEvent it carries the full sighting for log replay.
type SpreadRecordedEvent struct {
	ContentHash contracts.Hash    `json:"content_hash"`
	IPHash      contracts.Hash    `json:"ip_hash"`
	Country     string            `json:"country"`
	City        string            `json:"city,omitempty"`
	Lat         int64             `json:"lat,omitempty"`
	Lon         int64             `json:"lon,omitempty"`
	Platform    string            `json:"platform"`
	SourceURL   string            `json:"source_url,omitempty"`
	SpreadCount uint64            `json:"spread_count"`
	Reporter    contracts.Address `json:"reporter"`
}

// SameIPReuploadEvent is emitted when a sighting repeats a known IP hash.
type SameIPReuploadEvent struct {
	ContentHash  contracts.Hash `json:"content_hash"`
	IPHash       contracts.Hash `json:"ip_hash"`
	UploadCount  uint64         `json:"upload_count"`
	SecondsSince int64          `json:"seconds_since_first"`
}

// NewLocationSpreadEvent is emitted when a sighting crosses into a country
// not seen before for that hash.
type NewLocationSpreadEvent struct {
	ContentHash     contracts.Hash `json:"content_hash"`
	FromCountry     string         `json:"from_country"`
	ToCountry       string         `json:"to_country"`
	UniqueCountries uint64         `json:"unique_countries"`
}

// ViralSpreadWarningEvent is emitted at spread-count milestones.
type ViralSpreadWarningEvent struct {
	ContentHash     contracts.Hash `json:"content_hash"`
	SpreadCount     uint64         `json:"spread_count"`
	UniqueCountries uint64         `json:"unique_countries"`
}

// LineageRegisteredEvent is emitted when a parent edge is recorded.
type LineageRegisteredEvent struct {
	ContentHash contracts.Hash `json:"content_hash"`
	ParentHash  contracts.Hash `json:"parent_hash"`
	Generation  uint64         `json:"generation"`
	Mutations   []string       `json:"mutations,omitempty"`
}

// AlertCreatedEvent is emitted for every stored alert.
type AlertCreatedEvent struct {
	AlertID        uint64              `json:"alert_id"`
	ContentHash    contracts.Hash      `json:"content_hash"`
	Type           contracts.AlertType `json:"type"`
	Severity       contracts.Severity  `json:"severity"`
	Message        string              `json:"message"`
	TriggerIPHash  contracts.Hash      `json:"trigger_ip_hash"`
	TriggerCountry string              `json:"trigger_country,omitempty"`
}

// AlertAcknowledgedEvent is emitted once per alert acknowledgement.
type AlertAcknowledgedEvent struct {
	AlertID uint64            `json:"alert_id"`
	By      contracts.Address `json:"by"`
}

// NodeAuthorizedEvent is emitted when a wallet gains submit rights.
type NodeAuthorizedEvent struct {
	Node        contracts.Address   `json:"node"`
	DisplayName string              `json:"display_name"`
	Class       contracts.NodeClass `json:"class"`
}

// NodeDeauthorizedEvent is emitted when a wallet loses submit rights.
type NodeDeauthorizedEvent struct {
	Node contracts.Address `json:"node"`
}

// OwnershipTransferredEvent is emitted on an ownership handover.
type OwnershipTransferredEvent struct {
	From contracts.Address `json:"from"`
	To   contracts.Address `json:"to"`
}

// RulesUpdatedEvent is emitted when alert thresholds or cooldown change.
// Scope is "global", "video" or "cooldown".
type RulesUpdatedEvent struct {
	Scope       string              `json:"scope"`
	ContentHash contracts.Hash      `json:"content_hash,omitempty"`
	Rule        contracts.AlertRule `json:"rule,omitempty"`
	CooldownSec int64               `json:"cooldown_sec,omitempty"`
}
