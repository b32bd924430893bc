package chain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinelmesh/core/pkg/contracts"
	"github.com/sentinelmesh/core/pkg/tracking"
	"github.com/sentinelmesh/core/pkg/videoledger"
)

// Restore loads previously committed entries into a fresh chain. The log
// is verified and adopted wholesale, so new commits extend the persisted
// head, and component state is rebuilt by interpreting the events:
// video records of both verdicts, spread history, lineage, node
// authorizations, ownership, alert rules and the alert list with
// acknowledgements.
func (c *Chain) Restore(entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.log.Restore(entries); err != nil {
		return err
	}

	for _, e := range entries {
		if err := c.applyRestored(e); err != nil {
			return fmt.Errorf("chain: restore entry %d (%s): %w", e.Sequence, e.Type, err)
		}
	}
	c.registry.WithClock(time.Now)
	c.videos.WithClock(time.Now)
	c.tracker.WithClock(time.Now)
	c.alerts.WithClock(time.Now)
	return nil
}

// applyRestored replays one entry's state effect. Component clocks are
// pinned to the entry timestamp so restored records keep their original
// times. Derived signal events (SameIPReupload, NewLocationSpread,
// ViralSpreadWarning) are skipped: replaying the sightings regenerates
// that state.
func (c *Chain) applyRestored(e Entry) error {
	ts := e.Timestamp
	at := func() time.Time { return ts }

	switch e.Type {
	case EventDeepfakeDetected:
		var ev DeepfakeDetectedEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		c.videos.WithClock(at)
		_, err := c.videos.Register(ev.Submitter, videoledger.Registration{
			ContentHash:    ev.ContentHash,
			PerceptualHash: ev.PerceptualHash,
			IsDeepfake:     true,
			ConfidenceBp:   ev.ConfidenceBp,
			LipsyncBp:      ev.LipsyncBp,
			FactCheckBp:    ev.FactCheckBp,
			IPHash:         ev.IPHash,
			Country:        ev.Country,
			City:           ev.City,
			Lat:            ev.Lat,
			Lon:            ev.Lon,
			Metadata:       ev.Metadata,
		})
		return err

	case EventVideoRegistered:
		var ev VideoRegisteredEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		c.videos.WithClock(at)
		_, err := c.videos.Register(ev.Submitter, videoledger.Registration{
			ContentHash:    ev.ContentHash,
			PerceptualHash: ev.PerceptualHash,
			IsDeepfake:     false,
			ConfidenceBp:   ev.ConfidenceBp,
			LipsyncBp:      ev.LipsyncBp,
			FactCheckBp:    ev.FactCheckBp,
			IPHash:         ev.IPHash,
			Country:        ev.Country,
			City:           ev.City,
			Lat:            ev.Lat,
			Lon:            ev.Lon,
			Metadata:       ev.Metadata,
		})
		return err

	case EventVideoRedetected:
		var ev VideoRedetectedEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		c.videos.WithClock(at)
		_, err := c.videos.Register(ev.Submitter, videoledger.Registration{ContentHash: ev.ContentHash})
		return err

	case EventSpreadRecorded:
		var ev SpreadRecordedEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		c.tracker.WithClock(at)
		_, err := c.tracker.RecordSpread(ev.Reporter, tracking.Sighting{
			ContentHash: ev.ContentHash,
			IPHash:      ev.IPHash,
			Country:     ev.Country,
			City:        ev.City,
			Lat:         ev.Lat,
			Lon:         ev.Lon,
			Platform:    ev.Platform,
			SourceURL:   ev.SourceURL,
		})
		return err

	case EventLineageRegistered:
		var ev LineageRegisteredEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		c.tracker.WithClock(at)
		return c.tracker.RegisterLineage(ev.ContentHash, ev.ParentHash, ev.Generation, ev.Mutations)

	case EventNodeAuthorized:
		var ev NodeAuthorizedEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		c.registry.WithClock(at)
		return c.registry.Authorize(e.Actor, ev.Node, ev.DisplayName, ev.Class)

	case EventNodeDeauthorized:
		var ev NodeDeauthorizedEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		return c.registry.Deauthorize(e.Actor, ev.Node)

	case EventOwnershipTransferred:
		var ev OwnershipTransferredEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		c.registry.WithClock(at)
		return c.registry.TransferOwnership(ev.From, ev.To)

	case EventRulesUpdated:
		var ev RulesUpdatedEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		switch ev.Scope {
		case "global":
			c.alerts.SetGlobalRule(ev.Rule)
		case "video":
			return c.alerts.SetVideoRule(ev.ContentHash, ev.Rule)
		case "cooldown":
			c.alerts.SetCooldown(time.Duration(ev.CooldownSec) * time.Second)
		}
		return nil

	case EventAlertCreated:
		var ev AlertCreatedEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		return c.alerts.Adopt(contracts.Alert{
			ID:             ev.AlertID,
			ContentHash:    ev.ContentHash,
			Type:           ev.Type,
			Severity:       ev.Severity,
			Message:        ev.Message,
			CreatedAt:      ts,
			TriggerIPHash:  ev.TriggerIPHash,
			TriggerCountry: ev.TriggerCountry,
		})

	case EventAlertAcknowledged:
		var ev AlertAcknowledgedEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return err
		}
		c.alerts.WithClock(at)
		return c.alerts.Acknowledge(ev.By, ev.AlertID)

	default:
		return nil
	}
}
