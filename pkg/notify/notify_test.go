package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/core/pkg/contracts"
)

func alert(id uint64, sev contracts.Severity) contracts.Alert {
	var h contracts.Hash
	h[0] = byte(id)
	return contracts.Alert{
		ID:          id,
		ContentHash: h,
		Type:        contracts.AlertFirstDetection,
		Severity:    sev,
		Message:     "deepfake first detected",
	}
}

type fakeChannel struct {
	sent []uint64
	err  error
}

func (f *fakeChannel) Name() string { return "fake" }
func (f *fakeChannel) Send(_ context.Context, a contracts.Alert) error {
	f.sent = append(f.sent, a.ID)
	return f.err
}

func TestSeverityFilter(t *testing.T) {
	ch := &fakeChannel{}
	n := New(contracts.SeverityHigh, 100, nil)
	n.AddChannel(ch)

	n.Notify(context.Background(), alert(1, contracts.SeverityMedium))
	n.Notify(context.Background(), alert(2, contracts.SeverityHigh))
	n.Notify(context.Background(), alert(3, contracts.SeverityCritical))

	assert.Equal(t, []uint64{2, 3}, ch.sent)
}

func TestHistoryRecordsFailures(t *testing.T) {
	ch := &fakeChannel{err: assert.AnError}
	n := New(contracts.SeverityLow, 100, nil)
	n.AddChannel(ch)

	n.Notify(context.Background(), alert(1, contracts.SeverityCritical))

	hist := n.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "fake", hist[0].Channel)
	assert.Equal(t, uint64(1), hist[0].AlertID)
	assert.NotEmpty(t, hist[0].Error)
}

func TestRateLimitDropsBurst(t *testing.T) {
	ch := &fakeChannel{}
	n := New(contracts.SeverityLow, 2, nil)
	n.AddChannel(ch)

	for i := uint64(1); i <= 10; i++ {
		n.Notify(context.Background(), alert(i, contracts.SeverityCritical))
	}
	assert.Len(t, ch.sent, 2, "burst capped at the per-minute budget")
}

func TestDiscordChannelPosts(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewDiscordChannel(srv.URL, srv.Client())
	require.NoError(t, c.Send(context.Background(), alert(1, contracts.SeverityCritical)))
	assert.Contains(t, got["content"], "CRITICAL")
	assert.Contains(t, got["content"], "deepfake first detected")
}

func TestTelegramChannelErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewTelegramChannel("tok", "chat", srv.URL, srv.Client())
	err := c.Send(context.Background(), alert(1, contracts.SeverityCritical))
	assert.ErrorContains(t, err, "401")
}
