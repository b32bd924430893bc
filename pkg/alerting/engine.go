// Package alerting evaluates detection and spread signals against
// threshold rules and emits rate-limited, severity-classified alerts.
//
// Duplicate-notification storms are suppressed with a per-(video, type)
// cooldown: an alert of a given type for a given video can fire again only
// after the cooldown has elapsed since the last alert of that exact type
// for that exact video. Distinct alert types fire independently.
package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/sentinelmesh/core/pkg/contracts"
)

// DefaultCooldown is the genesis cooldown between same-type alerts.
const DefaultCooldown = 300 * time.Second

// Suppressed is returned as the alert ID when a trigger was valid but the
// alert was not created (cooldown, disabled rule, or below threshold).
const Suppressed uint64 = 0

type cooldownKey struct {
	hash contracts.Hash
	typ  contracts.AlertType
}

// Engine is the stateful alert evaluator. Safe for concurrent use.
type Engine struct {
	mu         sync.RWMutex
	alerts     []*contracts.Alert // id = index+1; ids are never reused
	byVideo    map[contracts.Hash][]uint64
	lastFired  map[cooldownKey]time.Time
	globalRule contracts.AlertRule
	videoRules map[contracts.Hash]contracts.AlertRule
	cooldown   time.Duration
	unacked    uint64
	clock      func() time.Time
}

// New creates an engine with the default global rule and cooldown.
func New() *Engine {
	return &Engine{
		byVideo:    make(map[contracts.Hash][]uint64),
		lastFired:  make(map[cooldownKey]time.Time),
		globalRule: contracts.DefaultAlertRule(),
		videoRules: make(map[contracts.Hash]contracts.AlertRule),
		cooldown:   DefaultCooldown,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// EffectiveRule resolves the rule for a video: a per-video override, if
// present, fully supersedes the global rule (no field-by-field merge).
func (e *Engine) EffectiveRule(hash contracts.Hash) contracts.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.effectiveRule(hash)
}

func (e *Engine) effectiveRule(hash contracts.Hash) contracts.AlertRule {
	if rule, ok := e.videoRules[hash]; ok {
		return rule
	}
	return e.globalRule
}

// TriggerFirstDetection fires a first-detection alert for a newly
// registered deepfake. Severity scales with the reported confidence.
func (e *Engine) TriggerFirstDetection(hash contracts.Hash, confidenceBp uint32, country string, ipHash contracts.Hash) (uint64, error) {
	if hash.IsZero() {
		return Suppressed, contracts.ErrZeroHash
	}
	if confidenceBp > contracts.BasisPointMax {
		return Suppressed, contracts.ErrScoreOutOfRange
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	severity := contracts.SeverityMedium
	switch {
	case confidenceBp >= 8000:
		severity = contracts.SeverityCritical
	case confidenceBp >= 6000:
		severity = contracts.SeverityHigh
	}

	msg := fmt.Sprintf("deepfake first detected with %.1f%% confidence in %s",
		float64(confidenceBp)/100, orUnknown(country))
	return e.fire(contracts.AlertFirstDetection, hash, severity, msg, ipHash, country), nil
}

// TriggerReupload fires when the same IP has re-uploaded a flagged video at
// least the effective rule's reupload threshold number of times.
func (e *Engine) TriggerReupload(hash, ipHash contracts.Hash, reuploadCount uint64, country string) (uint64, error) {
	if hash.IsZero() {
		return Suppressed, contracts.ErrZeroHash
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule := e.effectiveRule(hash)
	if reuploadCount < rule.ReuploadThreshold {
		return Suppressed, nil
	}

	severity := contracts.SeverityMedium
	if reuploadCount >= 5 {
		severity = contracts.SeverityHigh
	}

	msg := fmt.Sprintf("same source re-uploaded video %d times from %s",
		reuploadCount, orUnknown(country))
	return e.fire(contracts.AlertReupload, hash, severity, msg, ipHash, country), nil
}

// TriggerGeoSpread fires when a video crosses into a new country and the
// unique-country count has reached the effective rule's country threshold.
func (e *Engine) TriggerGeoSpread(hash contracts.Hash, fromCountry, toCountry string, uniqueCountries uint64) (uint64, error) {
	if hash.IsZero() {
		return Suppressed, contracts.ErrZeroHash
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule := e.effectiveRule(hash)
	if uniqueCountries < rule.CountryThreshold {
		return Suppressed, nil
	}

	severity := contracts.SeverityHigh
	if uniqueCountries >= 10 {
		severity = contracts.SeverityCritical
	}

	msg := fmt.Sprintf("video spread from %s to %s (%d countries total)",
		orUnknown(fromCountry), orUnknown(toCountry), uniqueCountries)
	return e.fire(contracts.AlertGeoSpread, hash, severity, msg, contracts.ZeroHash, toCountry), nil
}

// CheckThresholds fires a detection-threshold alert when detectionCount is
// a positive multiple of the effective detection threshold, and a
// viral-spread alert when spreadCount is a positive multiple of the
// effective spread threshold. Both fire independently, both cooldown-gated.
func (e *Engine) CheckThresholds(hash contracts.Hash, detectionCount, spreadCount, uniqueCountries uint64) (detectionID, viralID uint64, err error) {
	if hash.IsZero() {
		return Suppressed, Suppressed, contracts.ErrZeroHash
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule := e.effectiveRule(hash)

	if rule.DetectionThreshold > 0 && detectionCount > 0 && detectionCount%rule.DetectionThreshold == 0 {
		msg := fmt.Sprintf("video re-detected %d times across the mesh", detectionCount)
		detectionID = e.fire(contracts.AlertDetectionThreshold, hash, contracts.SeverityHigh, msg, contracts.ZeroHash, "")
	}

	if rule.SpreadThreshold > 0 && spreadCount > 0 && spreadCount%rule.SpreadThreshold == 0 {
		msg := fmt.Sprintf("viral spread: %d sightings across %d countries", spreadCount, uniqueCountries)
		viralID = e.fire(contracts.AlertViralSpread, hash, contracts.SeverityCritical, msg, contracts.ZeroHash, "")
	}

	return detectionID, viralID, nil
}

// fire creates an alert unless the rule is disabled or the (video, type)
// cooldown has not elapsed. Caller holds e.mu. Returns Suppressed when no
// alert was stored; alert IDs stay strictly increasing regardless.
func (e *Engine) fire(typ contracts.AlertType, hash contracts.Hash, severity contracts.Severity, msg string, ipHash contracts.Hash, country string) uint64 {
	if !e.effectiveRule(hash).Enabled {
		return Suppressed
	}

	now := e.clock()
	key := cooldownKey{hash: hash, typ: typ}
	if last, ok := e.lastFired[key]; ok && now.Sub(last) < e.cooldown {
		return Suppressed
	}
	e.lastFired[key] = now

	alert := &contracts.Alert{
		ID:             uint64(len(e.alerts)) + 1,
		ContentHash:    hash,
		Type:           typ,
		Severity:       severity,
		Message:        msg,
		CreatedAt:      now,
		TriggerIPHash:  ipHash,
		TriggerCountry: country,
	}
	e.alerts = append(e.alerts, alert)
	e.byVideo[hash] = append(e.byVideo[hash], alert.ID)
	e.unacked++
	return alert.ID
}

// Adopt appends a previously issued alert verbatim, preserving its ID,
// acknowledgement state and cooldown effect. Used when rebuilding engine
// state from a persisted event log. The ID must continue the sequence.
func (e *Engine) Adopt(a contracts.Alert) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if a.ID != uint64(len(e.alerts))+1 {
		return contracts.ErrInvalidID
	}
	stored := a
	e.alerts = append(e.alerts, &stored)
	e.byVideo[a.ContentHash] = append(e.byVideo[a.ContentHash], a.ID)
	e.lastFired[cooldownKey{hash: a.ContentHash, typ: a.Type}] = a.CreatedAt
	if !a.Acknowledged {
		e.unacked++
	}
	return nil
}

// Acknowledge marks one alert as handled. The acknowledgement fields
// transition exactly once from unset to set.
func (e *Engine) Acknowledge(caller contracts.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, err := e.lookup(id)
	if err != nil {
		return err
	}
	if alert.Acknowledged {
		return contracts.ErrAlreadyAcknowledged
	}
	alert.Acknowledged = true
	alert.AcknowledgedBy = caller
	alert.AcknowledgedAt = e.clock()
	e.unacked--
	return nil
}

// BatchAcknowledge applies Acknowledge per id, skipping already-acknowledged
// alerts rather than failing the whole batch. Invalid ids reject the batch
// before any mutation. Returns the ids actually acknowledged.
func (e *Engine) BatchAcknowledge(caller contracts.Address, ids []uint64) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Validate everything up front: all-or-nothing on malformed input.
	for _, id := range ids {
		if _, err := e.lookup(id); err != nil {
			return nil, err
		}
	}

	now := e.clock()
	acked := make([]uint64, 0, len(ids))
	for _, id := range ids {
		alert := e.alerts[id-1]
		if alert.Acknowledged {
			continue
		}
		alert.Acknowledged = true
		alert.AcknowledgedBy = caller
		alert.AcknowledgedAt = now
		e.unacked--
		acked = append(acked, id)
	}
	return acked, nil
}

func (e *Engine) lookup(id uint64) (*contracts.Alert, error) {
	if id == 0 || id > uint64(len(e.alerts)) {
		return nil, contracts.ErrInvalidID
	}
	return e.alerts[id-1], nil
}

// Get returns one alert by id.
func (e *Engine) Get(id uint64) (contracts.Alert, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	alert, err := e.lookup(id)
	if err != nil {
		return contracts.Alert{}, err
	}
	return *alert, nil
}

// VideoAlerts returns all alerts for one video, oldest first.
func (e *Engine) VideoAlerts(hash contracts.Hash) []contracts.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.byVideo[hash]
	out := make([]contracts.Alert, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.alerts[id-1])
	}
	return out
}

// AlertsPaginated returns a bounded page of alerts, oldest first.
func (e *Engine) AlertsPaginated(offset, limit int) []contracts.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if offset < 0 || offset >= len(e.alerts) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(e.alerts) {
		end = len(e.alerts)
	}
	out := make([]contracts.Alert, 0, end-offset)
	for _, a := range e.alerts[offset:end] {
		out = append(out, *a)
	}
	return out
}

// TotalAlerts returns the number of alerts ever created.
func (e *Engine) TotalAlerts() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint64(len(e.alerts))
}

// UnacknowledgedCount returns the number of open alerts.
func (e *Engine) UnacknowledgedCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unacked
}

// SetGlobalRule replaces the global threshold rule.
func (e *Engine) SetGlobalRule(rule contracts.AlertRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalRule = rule
}

// SetVideoRule installs a per-video override. The override fully replaces
// the global rule for that video, so callers supply all four thresholds
// even when changing one.
func (e *Engine) SetVideoRule(hash contracts.Hash, rule contracts.AlertRule) error {
	if hash.IsZero() {
		return contracts.ErrZeroHash
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoRules[hash] = rule
	return nil
}

// ClearVideoRule removes a per-video override, restoring the global rule.
func (e *Engine) ClearVideoRule(hash contracts.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.videoRules, hash)
}

// SetCooldown changes the same-type alert suppression window.
func (e *Engine) SetCooldown(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldown = d
}

// Cooldown returns the current suppression window.
func (e *Engine) Cooldown() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cooldown
}

func orUnknown(country string) string {
	if country == "" {
		return "unknown location"
	}
	return country
}
