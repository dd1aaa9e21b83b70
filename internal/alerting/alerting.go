// Package alerting posts job failure alerts to a Slack, Discord or generic webhook.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds alerting configuration.
type Config struct {
	// WebhookURL is a Slack, Discord or custom endpoint. Empty disables alerts.
	WebhookURL string
	// WebhookType selects the payload format: "slack", "discord" or "generic".
	// Empty means detect from the URL.
	WebhookType string
	// MinFailures is how many consecutive failures of a job trigger an alert.
	MinFailures int
	Timeout     time.Duration
}

// JobAlert describes a failed scheduled job run.
type JobAlert struct {
	Job                 string
	Period              string
	Error               string
	ConsecutiveFailures int
	Duration            time.Duration
	Timestamp           time.Time
}

// Alerter sends alerts to the configured webhook and tracks consecutive
// failures per job.
type Alerter struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger

	mu       sync.Mutex
	failures map[string]int
}

func New(cfg Config, log *zap.Logger) *Alerter {
	if cfg.MinFailures < 1 {
		cfg.MinFailures = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WebhookType == "" {
		cfg.WebhookType = detectType(cfg.WebhookURL)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log.Named("alerting"),
		failures: make(map[string]int),
	}
}

func detectType(url string) string {
	switch {
	case strings.Contains(url, "slack.com"):
		return "slack"
	case strings.Contains(url, "discord.com"):
		return "discord"
	}
	return "generic"
}

func (a *Alerter) Enabled() bool { return a.cfg.WebhookURL != "" }

// Succeeded resets the failure streak of job.
func (a *Alerter) Succeeded(job string) {
	a.mu.Lock()
	delete(a.failures, job)
	a.mu.Unlock()
}

// Failed records a failure of job and alerts once the streak reaches
// MinFailures.
func (a *Alerter) Failed(ctx context.Context, job, period string, jobErr error, took time.Duration) error {
	a.mu.Lock()
	a.failures[job]++
	streak := a.failures[job]
	a.mu.Unlock()

	if !a.Enabled() {
		a.log.Debug("alerts disabled, skipping", zap.String("job", job))
		return nil
	}
	if streak < a.cfg.MinFailures {
		a.log.Info("failure below alert threshold",
			zap.String("job", job), zap.Int("failures", streak), zap.Int("threshold", a.cfg.MinFailures))
		return nil
	}
	return a.Send(ctx, JobAlert{
		Job:                 job,
		Period:              period,
		Error:               jobErr.Error(),
		ConsecutiveFailures: streak,
		Duration:            took,
		Timestamp:           time.Now().UTC(),
	})
}

// Send posts alert to the webhook regardless of thresholds.
func (a *Alerter) Send(ctx context.Context, alert JobAlert) error {
	var (
		payload []byte
		err     error
	)
	switch a.cfg.WebhookType {
	case "slack":
		payload, err = slackPayload(alert)
	case "discord":
		payload, err = discordPayload(alert)
	default:
		payload, err = genericPayload(alert)
	}
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	a.log.Info("alert sent", zap.String("job", alert.Job), zap.Int("failures", alert.ConsecutiveFailures))
	return nil
}

func slackPayload(alert JobAlert) ([]byte, error) {
	return json.Marshal(map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf(":x: Job failed: %s", alert.Job),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Period:*\n%s", alert.Period)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Failures in a row:*\n%d", alert.ConsecutiveFailures)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:*\n%s", alert.Duration.Round(time.Millisecond))},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Timestamp:*\n%s", alert.Timestamp.Format(time.RFC3339))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Error:*\n```%s```", alert.Error),
				},
			},
		},
	})
}

func discordPayload(alert JobAlert) ([]byte, error) {
	color := 16776960 // yellow
	if alert.ConsecutiveFailures > 1 {
		color = 16711680 // red
	}
	return json.Marshal(map[string]any{
		"embeds": []map[string]any{
			{
				"title":       fmt.Sprintf("Job failed: %s", alert.Job),
				"description": alert.Error,
				"color":       color,
				"fields": []map[string]any{
					{"name": "Period", "value": alert.Period, "inline": true},
					{"name": "Failures in a row", "value": fmt.Sprintf("%d", alert.ConsecutiveFailures), "inline": true},
					{"name": "Duration", "value": alert.Duration.Round(time.Millisecond).String(), "inline": true},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	})
}

func genericPayload(alert JobAlert) ([]byte, error) {
	return json.Marshal(map[string]any{
		"alert_type":           "job_failure",
		"job_name":             alert.Job,
		"period":               alert.Period,
		"error":                alert.Error,
		"consecutive_failures": alert.ConsecutiveFailures,
		"duration_ms":          alert.Duration.Milliseconds(),
		"timestamp":            alert.Timestamp.Format(time.RFC3339),
	})
}
