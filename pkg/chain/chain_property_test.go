//go:build property
// +build property

// Package chain_test contains property-based tests for log determinism
// and replica convergence.
package chain_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sentinelmesh/core/pkg/chain"
	"github.com/sentinelmesh/core/pkg/contracts"
	"github.com/sentinelmesh/core/pkg/tracking"
	"github.com/sentinelmesh/core/pkg/videoledger"
)

const (
	propOwner = contracts.Address("0xowner")
	propNode  = contracts.Address("0xnode")
)

func propHash(n byte) contracts.Hash {
	var h contracts.Hash
	h[0] = n
	h[31] = 0xff
	return h
}

// applyOps drives a chain through a generated operation sequence. ops are
// small integers interpreted as detections and sightings over a handful
// of hashes, so collisions (re-detections, repeat sightings) occur often.
func applyOps(c *chain.Chain, ops []uint8) {
	for i, op := range ops {
		h := propHash(op % 4)
		switch op % 3 {
		case 0, 1:
			_, _ = c.SubmitDetection(propNode, videoledger.Registration{
				ContentHash:  h,
				ConfidenceBp: 9000,
				Country:      "US",
			})
		case 2:
			_, _ = c.ReportSighting(propNode, tracking.Sighting{
				ContentHash: h,
				IPHash:      propHash(uint8(i) % 8),
				Country:     fmt.Sprintf("C%d", op%5),
				Platform:    "YouTube",
			})
		}
	}
}

// TestChainHeadDeterminism verifies two replicas applying the same
// operation sequence converge on the same head, regardless of wall time.
// Property: head(apply(ops, t1)) == head(apply(ops, t2))
func TestChainHeadDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("replicas converge on the same head", prop.ForAll(
		func(ops []uint8) bool {
			t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			t2 := time.Date(2026, 6, 15, 12, 30, 0, 0, time.UTC)

			a := chain.New(propOwner).WithClock(func() time.Time { return t1 })
			b := chain.New(propOwner).WithClock(func() time.Time { return t2 })
			if err := a.AuthorizeNode(propOwner, propNode, "n", contracts.NodeClassEdge); err != nil {
				return false
			}
			if err := b.AuthorizeNode(propOwner, propNode, "n", contracts.NodeClassEdge); err != nil {
				return false
			}

			applyOps(a, ops)
			applyOps(b, ops)

			return a.Log().Head() == b.Log().Head() &&
				a.Log().Length() == b.Log().Length()
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

// TestRestoreRoundTrip verifies that restoring a chain's entries into a
// fresh replica reproduces the head, and that the restored log verifies.
// Property: head(restore(entries(c))) == head(c)
func TestRestoreRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("restore reproduces the head", prop.ForAll(
		func(ops []uint8) bool {
			c := chain.New(propOwner)
			if err := c.AuthorizeNode(propOwner, propNode, "n", contracts.NodeClassEdge); err != nil {
				return false
			}
			applyOps(c, ops)

			fresh := chain.New(propOwner)
			if err := fresh.Restore(c.Log().Range(0, 0)); err != nil {
				return false
			}
			if err := fresh.Log().Verify(); err != nil {
				return false
			}
			return fresh.Log().Head() == c.Log().Head()
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

// TestVerifyRejectsMutation verifies any payload mutation breaks
// verification of a non-empty log.
// Property: Verify(mutate(entries)) != nil
func TestVerifyRejectsMutation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tampered payloads fail restore", prop.ForAll(
		func(ops []uint8, victim uint64) bool {
			c := chain.New(propOwner)
			if err := c.AuthorizeNode(propOwner, propNode, "n", contracts.NodeClassEdge); err != nil {
				return false
			}
			applyOps(c, ops)

			entries := c.Log().Range(0, 0)
			i := int(victim % uint64(len(entries)))
			entries[i].Payload = append([]byte(nil), entries[i].Payload...)
			entries[i].Payload = append(entries[i].Payload, ' ')

			return chain.NewLog().Restore(entries) != nil
		},
		gen.SliceOf(gen.UInt8()),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
