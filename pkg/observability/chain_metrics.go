package observability

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sentinelmesh/core/pkg/chain"
)

// ChainSubscriber returns a commit subscriber that feeds the mesh
// counters. Runs inside the chain's commit path, so it only bumps
// in-process instruments; export happens on the periodic reader.
func (p *Provider) ChainSubscriber() chain.Subscriber {
	ctx := context.Background()
	return func(e chain.Entry) {
		if p.chainLength != nil {
			p.chainLength.Add(ctx, 1, metric.WithAttributes(
				attribute.String("event.type", string(e.Type)),
			))
		}

		switch e.Type {
		case chain.EventDeepfakeDetected, chain.EventVideoRegistered, chain.EventVideoRedetected:
			if p.detectionCounter != nil {
				p.detectionCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.Bool("first", e.Type != chain.EventVideoRedetected),
				))
			}
		case chain.EventSpreadRecorded:
			if p.sightingCounter != nil {
				p.sightingCounter.Add(ctx, 1)
			}
		case chain.EventAlertCreated:
			if p.alertCounter == nil {
				return
			}
			var ev chain.AlertCreatedEvent
			if err := json.Unmarshal(e.Payload, &ev); err != nil {
				return
			}
			p.alertCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("alert.type", string(ev.Type)),
				attribute.String("alert.severity", string(ev.Severity)),
			))
		}
	}
}
