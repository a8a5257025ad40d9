package bridge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/pipeline"
)

// WebhookPoster returns an OnMessage callback that forwards inbound
// messages to the upstream collaborator. Delivery is at-least-once from
// the caller's perspective; retries beyond a single attempt are the
// upstream's concern.
func WebhookPoster(url string) pipeline.OnMessage {
	if url == "" {
		return nil
	}

	client := &http.Client{Timeout: 10 * time.Second}

	return func(evt pipeline.InboundEvent) {
		payload := struct {
			EventID string `json:"eventId"`
			pipeline.InboundEvent
		}{
			EventID:      uuid.NewString(),
			InboundEvent: evt,
		}

		body, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode webhook payload")
			return
		}

		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Warn().Err(err).Msg("Webhook delivery failed")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			log.Warn().Int("status", resp.StatusCode).Msg("Webhook returned non-success status")
		}
	}
}
