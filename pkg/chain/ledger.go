// Package chain is the single public write path of the detection ledger.
// It composes the access registry, video ledger, spread tracker and alert
// engine behind one serializing mutex, commits every state change as a
// hash-chained event, and fans entries out to subscribers.
//
// Serialization is the consistency model: exactly one mutating operation
// executes at a time, so the check-then-act patterns inside the components
// observe a frozen world. Reads take the same lock and always see the state
// after the last committed event.
package chain

import (
	"sync"
	"time"

	"github.com/sentinelmesh/core/pkg/alerting"
	"github.com/sentinelmesh/core/pkg/contracts"
	"github.com/sentinelmesh/core/pkg/registry"
	"github.com/sentinelmesh/core/pkg/tracking"
	"github.com/sentinelmesh/core/pkg/videoledger"
)

// Subscriber receives committed entries, called synchronously in commit
// order while the chain lock is held. Handlers must be fast and must not
// call back into the chain.
type Subscriber func(Entry)

// Chain is the composed ledger state machine.
type Chain struct {
	mu       sync.Mutex
	registry *registry.Registry
	videos   *videoledger.Ledger
	tracker  *tracking.Tracker
	alerts   *alerting.Engine
	log      *Log
	subs     []Subscriber
}

// New creates a chain with the given genesis owner.
func New(owner contracts.Address) *Chain {
	return &Chain{
		registry: registry.New(owner),
		videos:   videoledger.New(),
		tracker:  tracking.New(),
		alerts:   alerting.New(),
		log:      NewLog(),
	}
}

// WithClock overrides the clock of every component for deterministic tests.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.registry.WithClock(clock)
	c.videos.WithClock(clock)
	c.tracker.WithClock(clock)
	c.alerts.WithClock(clock)
	c.log.WithClock(clock)
	return c
}

// Subscribe registers a handler for all future committed entries.
func (c *Chain) Subscribe(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, s)
}

// commit appends one event and notifies subscribers. Caller holds c.mu.
// Append errors are confined to unmarshalable payloads, which the typed
// event structs rule out, so commit swallows them rather than unwinding
// component state that has already changed.
func (c *Chain) commit(typ EventType, actor contracts.Address, payload any) {
	seq, err := c.log.Append(typ, actor, payload)
	if err != nil {
		return
	}
	entry, err := c.log.Get(seq)
	if err != nil {
		return
	}
	for _, s := range c.subs {
		s(entry)
	}
}

// requireAuthorized gates every mutating operation.
func (c *Chain) requireAuthorized(caller contracts.Address) error {
	if !c.registry.IsAuthorized(caller) {
		return contracts.ErrNotAuthorized
	}
	return nil
}

// requireOwner gates administrative operations.
func (c *Chain) requireOwner(caller contracts.Address) error {
	if caller != c.registry.Owner() {
		return contracts.ErrNotOwner
	}
	return nil
}

// DetectionOutcome reports everything one SubmitDetection call did.
type DetectionOutcome struct {
	Register videoledger.RegisterResult `json:"register"`
	AlertIDs []uint64                   `json:"alert_ids,omitempty"`
}

// SubmitDetection registers one detection verdict and derives the follow-on
// events and alerts in the same atomic step: DeepfakeDetected plus a
// first-detection alert for new deepfakes, VideoRedetected plus threshold
// checks for repeats.
func (c *Chain) SubmitDetection(caller contracts.Address, reg videoledger.Registration) (DetectionOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireAuthorized(caller); err != nil {
		return DetectionOutcome{}, err
	}

	res, err := c.videos.Register(caller, reg)
	if err != nil {
		return DetectionOutcome{}, err
	}
	out := DetectionOutcome{Register: res}
	c.afterDetection(caller, reg, res, &out)
	return out, nil
}

// afterDetection emits events and alerts for one applied registration.
// Caller holds c.mu.
func (c *Chain) afterDetection(caller contracts.Address, reg videoledger.Registration, res videoledger.RegisterResult, out *DetectionOutcome) {
	if res.Skipped {
		return
	}

	if res.IsNew {
		if reg.IsDeepfake {
			c.commit(EventDeepfakeDetected, caller, DeepfakeDetectedEvent{
				ContentHash:    reg.ContentHash,
				PerceptualHash: reg.PerceptualHash,
				ConfidenceBp:   reg.ConfidenceBp,
				LipsyncBp:      reg.LipsyncBp,
				FactCheckBp:    reg.FactCheckBp,
				IPHash:         reg.IPHash,
				Country:        reg.Country,
				City:           reg.City,
				Lat:            reg.Lat,
				Lon:            reg.Lon,
				Metadata:       reg.Metadata,
				Submitter:      caller,
			})
			if id, err := c.alerts.TriggerFirstDetection(reg.ContentHash, reg.ConfidenceBp, reg.Country, reg.IPHash); err == nil && id != alerting.Suppressed {
				out.AlertIDs = append(out.AlertIDs, id)
				c.commitAlert(caller, id)
			}
		} else {
			c.commit(EventVideoRegistered, caller, VideoRegisteredEvent{
				ContentHash:    reg.ContentHash,
				PerceptualHash: reg.PerceptualHash,
				ConfidenceBp:   reg.ConfidenceBp,
				LipsyncBp:      reg.LipsyncBp,
				FactCheckBp:    reg.FactCheckBp,
				IPHash:         reg.IPHash,
				Country:        reg.Country,
				City:           reg.City,
				Lat:            reg.Lat,
				Lon:            reg.Lon,
				Metadata:       reg.Metadata,
				Submitter:      caller,
			})
		}
		c.checkThresholds(caller, reg.ContentHash, res.DetectionCount, &out.AlertIDs)
		return
	}

	c.commit(EventVideoRedetected, caller, VideoRedetectedEvent{
		ContentHash:    reg.ContentHash,
		DetectionCount: res.DetectionCount,
		Submitter:      caller,
	})
	c.checkThresholds(caller, reg.ContentHash, res.DetectionCount, &out.AlertIDs)
}

// checkThresholds runs the counter checks against current spread state and
// journals every alert that fired. Caller holds c.mu.
func (c *Chain) checkThresholds(caller contracts.Address, hash contracts.Hash, detectionCount uint64, ids *[]uint64) {
	spread := c.tracker.SpreadCount(hash)
	unique := c.tracker.UniqueCountryCount(hash)
	det, viral, err := c.alerts.CheckThresholds(hash, detectionCount, spread, unique)
	if err != nil {
		return
	}
	if det != alerting.Suppressed {
		*ids = append(*ids, det)
		c.commitAlert(caller, det)
	}
	if viral != alerting.Suppressed {
		*ids = append(*ids, viral)
		c.commitAlert(caller, viral)
	}
}

// SubmitBatch applies up to the batch limit of detections atomically:
// validation failures reject the whole batch before any state change,
// zero-hash entries are skipped, everything else lands with full
// per-entry event and alert derivation.
func (c *Chain) SubmitBatch(caller contracts.Address, b videoledger.Batch) ([]DetectionOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireAuthorized(caller); err != nil {
		return nil, err
	}

	results, err := c.videos.BatchRegister(caller, b)
	if err != nil {
		return nil, err
	}

	outs := make([]DetectionOutcome, len(results))
	for i, res := range results {
		outs[i] = DetectionOutcome{Register: res}
		if res.Skipped {
			continue
		}
		c.afterDetection(caller, videoledger.Registration{
			ContentHash:    b.ContentHashes[i],
			PerceptualHash: b.PerceptualHashes[i],
			IsDeepfake:     b.IsDeepfake[i],
			ConfidenceBp:   b.ConfidenceBp[i],
			IPHash:         b.IPHashes[i],
			Country:        b.Countries[i],
			City:           b.Cities[i],
		}, res, &outs[i])
	}
	return outs, nil
}

// SightingOutcome reports everything one ReportSighting call did.
type SightingOutcome struct {
	Spread   tracking.SpreadOutcome `json:"spread"`
	AlertIDs []uint64               `json:"alert_ids,omitempty"`
}

// ReportSighting records one spread event and derives re-upload, new-country
// and viral-spread events and alerts in the same atomic step. Sightings may
// arrive before the video's registration; the spread record stands on its
// own and counter alerts start once the record exists.
func (c *Chain) ReportSighting(caller contracts.Address, s tracking.Sighting) (SightingOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireAuthorized(caller); err != nil {
		return SightingOutcome{}, err
	}

	sp, err := c.tracker.RecordSpread(caller, s)
	if err != nil {
		return SightingOutcome{}, err
	}
	out := SightingOutcome{Spread: sp}

	c.commit(EventSpreadRecorded, caller, SpreadRecordedEvent{
		ContentHash: s.ContentHash,
		IPHash:      s.IPHash,
		Country:     s.Country,
		City:        s.City,
		Lat:         s.Lat,
		Lon:         s.Lon,
		Platform:    s.Platform,
		SourceURL:   s.SourceURL,
		SpreadCount: sp.SpreadCount,
		Reporter:    caller,
	})

	if sp.SameIPReupload {
		c.commit(EventSameIPReupload, caller, SameIPReuploadEvent{
			ContentHash:  s.ContentHash,
			IPHash:       s.IPHash,
			UploadCount:  sp.IPUploadCount,
			SecondsSince: int64(sp.TimeSinceFirst / time.Second),
		})
		if id, err := c.alerts.TriggerReupload(s.ContentHash, s.IPHash, sp.IPUploadCount, s.Country); err == nil && id != alerting.Suppressed {
			out.AlertIDs = append(out.AlertIDs, id)
			c.commitAlert(caller, id)
		}
	}

	if sp.NewCountry {
		c.commit(EventNewLocationSpread, caller, NewLocationSpreadEvent{
			ContentHash:     s.ContentHash,
			FromCountry:     sp.PreviousCountry,
			ToCountry:       s.Country,
			UniqueCountries: sp.UniqueCountries,
		})
		if id, err := c.alerts.TriggerGeoSpread(s.ContentHash, sp.PreviousCountry, s.Country, sp.UniqueCountries); err == nil && id != alerting.Suppressed {
			out.AlertIDs = append(out.AlertIDs, id)
			c.commitAlert(caller, id)
		}
	}

	if sp.ViralMilestone {
		c.commit(EventViralSpreadWarning, caller, ViralSpreadWarningEvent{
			ContentHash:     s.ContentHash,
			SpreadCount:     sp.SpreadCount,
			UniqueCountries: sp.UniqueCountries,
		})
	}

	if rec, err := c.videos.Get(s.ContentHash); err == nil {
		c.checkThresholds(caller, s.ContentHash, rec.DetectionCount, &out.AlertIDs)
	}
	return out, nil
}

// commitAlert emits AlertCreated for an alert id. Caller holds c.mu.
func (c *Chain) commitAlert(actor contracts.Address, id uint64) {
	alert, err := c.alerts.Get(id)
	if err != nil {
		return
	}
	c.commit(EventAlertCreated, actor, AlertCreatedEvent{
		AlertID:        alert.ID,
		ContentHash:    alert.ContentHash,
		Type:           alert.Type,
		Severity:       alert.Severity,
		Message:        alert.Message,
		TriggerIPHash:  alert.TriggerIPHash,
		TriggerCountry: alert.TriggerCountry,
	})
}

// RegisterLineage records a parent edge for an edited variant.
func (c *Chain) RegisterLineage(caller contracts.Address, childHash, parentHash contracts.Hash, generation uint64, mutations []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireAuthorized(caller); err != nil {
		return err
	}
	if err := c.tracker.RegisterLineage(childHash, parentHash, generation, mutations); err != nil {
		return err
	}
	c.commit(EventLineageRegistered, caller, LineageRegisteredEvent{
		ContentHash: childHash,
		ParentHash:  parentHash,
		Generation:  generation,
		Mutations:   mutations,
	})
	return nil
}

// AcknowledgeAlert marks one alert as handled.
func (c *Chain) AcknowledgeAlert(caller contracts.Address, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireAuthorized(caller); err != nil {
		return err
	}
	if err := c.alerts.Acknowledge(caller, id); err != nil {
		return err
	}
	c.commit(EventAlertAcknowledged, caller, AlertAcknowledgedEvent{AlertID: id, By: caller})
	return nil
}

// BatchAcknowledgeAlerts acknowledges a set of alerts, skipping any that
// were already acknowledged. One event per alert actually flipped.
func (c *Chain) BatchAcknowledgeAlerts(caller contracts.Address, ids []uint64) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireAuthorized(caller); err != nil {
		return nil, err
	}
	acked, err := c.alerts.BatchAcknowledge(caller, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range acked {
		c.commit(EventAlertAcknowledged, caller, AlertAcknowledgedEvent{AlertID: id, By: caller})
	}
	return acked, nil
}

// AuthorizeNode grants submit rights to a wallet. Owner only.
func (c *Chain) AuthorizeNode(caller, target contracts.Address, name string, class contracts.NodeClass) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.Authorize(caller, target, name, class); err != nil {
		return err
	}
	c.commit(EventNodeAuthorized, caller, NodeAuthorizedEvent{Node: target, DisplayName: name, Class: class})
	return nil
}

// DeauthorizeNode revokes submit rights. Owner only.
func (c *Chain) DeauthorizeNode(caller, target contracts.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.Deauthorize(caller, target); err != nil {
		return err
	}
	c.commit(EventNodeDeauthorized, caller, NodeDeauthorizedEvent{Node: target})
	return nil
}

// TransferOwnership hands the root-admin role to a new wallet. Owner only.
func (c *Chain) TransferOwnership(caller, newOwner contracts.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.TransferOwnership(caller, newOwner); err != nil {
		return err
	}
	c.commit(EventOwnershipTransferred, caller, OwnershipTransferredEvent{From: caller, To: newOwner})
	return nil
}

// SetGlobalRules replaces the global alert thresholds. Owner only.
func (c *Chain) SetGlobalRules(caller contracts.Address, rule contracts.AlertRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	c.alerts.SetGlobalRule(rule)
	c.commit(EventRulesUpdated, caller, RulesUpdatedEvent{Scope: "global", Rule: rule})
	return nil
}

// SetVideoRules installs a per-video rule override. Owner only.
func (c *Chain) SetVideoRules(caller contracts.Address, hash contracts.Hash, rule contracts.AlertRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if err := c.alerts.SetVideoRule(hash, rule); err != nil {
		return err
	}
	c.commit(EventRulesUpdated, caller, RulesUpdatedEvent{Scope: "video", ContentHash: hash, Rule: rule})
	return nil
}

// SetAlertCooldown changes the same-type alert suppression window. Owner only.
func (c *Chain) SetAlertCooldown(caller contracts.Address, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	c.alerts.SetCooldown(d)
	c.commit(EventRulesUpdated, caller, RulesUpdatedEvent{Scope: "cooldown", CooldownSec: int64(d / time.Second)})
	return nil
}

// Read-side accessors. They take the write lock so a reader always sees the
// state after the last committed event, never a torn intermediate.

// Video returns the record for a content hash.
func (c *Chain) Video(hash contracts.Hash) (contracts.VideoRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videos.Get(hash)
}

// VideoExists reports whether a hash has been registered.
func (c *Chain) VideoExists(hash contracts.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videos.Exists(hash)
}

// FindSimilar returns hashes sharing a perceptual-hash bucket.
func (c *Chain) FindSimilar(perceptualHash string) []contracts.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videos.FindSimilar(perceptualHash)
}

// Stats returns the global video counters.
func (c *Chain) Stats() contracts.LedgerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videos.Stats()
}

// VideoHashes returns a page of registered hashes in insertion order.
func (c *Chain) VideoHashes(offset, limit int) []contracts.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videos.Hashes(offset, limit)
}

// DeepfakeHashes returns the hashes of all deepfake-verdict records.
func (c *Chain) DeepfakeHashes() []contracts.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videos.DeepfakeHashes()
}

// SpreadEvents returns a page of sightings for a hash.
func (c *Chain) SpreadEvents(hash contracts.Hash, offset, limit int) []contracts.SpreadEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.EventsPaginated(hash, offset, limit)
}

// SpreadCount returns the number of sightings for a hash.
func (c *Chain) SpreadCount(hash contracts.Hash) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.SpreadCount(hash)
}

// Lineage returns the lineage record for a hash.
func (c *Chain) Lineage(hash contracts.Hash) (contracts.LineageRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.GetLineage(hash)
}

// TraceToRoot walks parent edges from hash, nearest ancestor first.
func (c *Chain) TraceToRoot(hash contracts.Hash, maxDepth int) []contracts.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.TraceToRoot(hash, maxDepth)
}

// Alert returns one alert by id.
func (c *Chain) Alert(id uint64) (contracts.Alert, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alerts.Get(id)
}

// VideoAlerts returns all alerts for one video.
func (c *Chain) VideoAlerts(hash contracts.Hash) []contracts.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alerts.VideoAlerts(hash)
}

// Alerts returns a bounded page of alerts, oldest first.
func (c *Chain) Alerts(offset, limit int) []contracts.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alerts.AlertsPaginated(offset, limit)
}

// UnacknowledgedAlerts returns the number of open alerts.
func (c *Chain) UnacknowledgedAlerts() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alerts.UnacknowledgedCount()
}

// IsAuthorized reports whether addr may submit events.
func (c *Chain) IsAuthorized(addr contracts.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.IsAuthorized(addr)
}

// Owner returns the current root admin.
func (c *Chain) Owner() contracts.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Owner()
}

// Node returns the identity record for addr.
func (c *Chain) Node(addr contracts.Address) (contracts.IdentityRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Get(addr)
}

// Nodes returns all identity records in authorization order.
func (c *Chain) Nodes() []contracts.IdentityRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.List()
}

// ActiveNodeCount returns the number of active authorized nodes.
func (c *Chain) ActiveNodeCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.ActiveCount()
}

// Log exposes the event log for verification, export and replay.
func (c *Chain) Log() *Log {
	return c.log
}

// EffectiveRule resolves the alert rule applied to a video.
func (c *Chain) EffectiveRule(hash contracts.Hash) contracts.AlertRule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alerts.EffectiveRule(hash)
}
