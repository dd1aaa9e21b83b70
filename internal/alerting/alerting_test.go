package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (r *recorder) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDetectType(t *testing.T) {
	assert.Equal(t, "slack", detectType("https://hooks.slack.com/services/x"))
	assert.Equal(t, "discord", detectType("https://discord.com/api/webhooks/x"))
	assert.Equal(t, "generic", detectType("https://example.com/hook"))
}

func TestFailed_ThresholdAndReset(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t, http.StatusOK)
	a := New(Config{WebhookURL: srv.URL, MinFailures: 2}, nil)
	ctx := context.Background()
	jobErr := errors.New("tariffs incomplete")

	require.NoError(t, a.Failed(ctx, "monthly_bill", "2024-01", jobErr, time.Second))
	assert.Empty(t, rec.bodies, "first failure stays below threshold")

	require.NoError(t, a.Failed(ctx, "monthly_bill", "2024-01", jobErr, time.Second))
	require.Len(t, rec.bodies, 1)
	assert.Equal(t, "job_failure", rec.bodies[0]["alert_type"])
	assert.Equal(t, "tariffs incomplete", rec.bodies[0]["error"])
	assert.EqualValues(t, 2, rec.bodies[0]["consecutive_failures"])

	a.Succeeded("monthly_bill")
	require.NoError(t, a.Failed(ctx, "monthly_bill", "2024-02", jobErr, time.Second))
	assert.Len(t, rec.bodies, 1, "streak restarted after success")
}

func TestSend_SlackAndDiscordShapes(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t, http.StatusOK)
	alert := JobAlert{Job: "monthly_bill", Period: "2024-01", Error: "boom", ConsecutiveFailures: 1, Timestamp: time.Now()}

	require.NoError(t, New(Config{WebhookURL: srv.URL, WebhookType: "slack"}, nil).Send(context.Background(), alert))
	require.NoError(t, New(Config{WebhookURL: srv.URL, WebhookType: "discord"}, nil).Send(context.Background(), alert))
	require.Len(t, rec.bodies, 2)
	assert.Contains(t, rec.bodies[0], "blocks")
	assert.Contains(t, rec.bodies[1], "embeds")
}

func TestSend_WebhookError(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t, http.StatusBadGateway)
	err := New(Config{WebhookURL: srv.URL}, nil).Send(context.Background(), JobAlert{Job: "x"})
	assert.ErrorContains(t, err, "502")
}

func TestFailed_DisabledIsSilent(t *testing.T) {
	a := New(Config{}, nil)
	assert.False(t, a.Enabled())
	assert.NoError(t, a.Failed(context.Background(), "monthly_bill", "2024-01", errors.New("x"), 0))
}
