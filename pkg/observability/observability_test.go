package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/core/pkg/chain"
	"github.com/sentinelmesh/core/pkg/contracts"
	"github.com/sentinelmesh/core/pkg/videoledger"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// No instruments are registered; record paths must not panic.
	p.RecordRequest(context.Background())
	p.RecordError(context.Background(), assert.AnError)
	ctx, done := p.TrackOperation(context.Background(), "submit_detection")
	assert.NotNil(t, ctx)
	done(assert.AnError)

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "sentinelmesh-node", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
}

func TestChainSubscriberToleratesAllEvents(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	owner := contracts.Address("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	c := chain.New(owner)
	c.Subscribe(p.ChainSubscriber())

	hash, err := contracts.ParseHash("0x01")
	require.NoError(t, err)
	_, err = c.SubmitDetection(owner, videoledger.Registration{
		ContentHash:  hash,
		IsDeepfake:   true,
		ConfidenceBp: 9000,
	})
	require.NoError(t, err)
}
