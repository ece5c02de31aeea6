// --- File: internal/pipeline/transformer.go ---
// Package pipeline adapts Pub/Sub broadcast requests onto the dispatch engine.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

// PayloadTransformer decodes a message body into the notification payload
// to broadcast. The body must be a JSON object; anything else is skipped
// so the StreamingService can hand it to the dead-letter topic.
func PayloadTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notification.Payload, bool, error) {
	var payload notification.Payload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal notification payload from message %s: %w", msg.ID, err)
	}
	if payload == nil {
		return nil, true, fmt.Errorf("message %s carries no notification payload", msg.ID)
	}
	return &payload, false, nil
}
