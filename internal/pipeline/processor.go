package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/notification"
)

// Broadcaster is the dispatch engine as seen by the pipeline.
type Broadcaster interface {
	Dispatch(ctx context.Context, payload notification.Payload) (notification.DispatchResult, error)
}

// NewProcessor runs one broadcast per message. Per-endpoint failures are
// already settled inside the dispatch; only a failure of the whole dispatch
// (nothing was sent) is returned, so redelivery cannot double-send.
func NewProcessor(
	broadcaster Broadcaster,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[notification.Payload] {

	return func(ctx context.Context, original messagepipeline.Message, payload *notification.Payload) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		result, err := broadcaster.Dispatch(ctx, *payload)
		if err != nil {
			procLogger.Error("Broadcast failed", "err", err)
			return err
		}

		procLogger.Info("Broadcast dispatched",
			"title", payload.Title(),
			"total", result.Total,
			"sent", result.Sent,
			"failed", result.Failed,
			"skipped", result.Skipped,
		)
		return nil
	}
}
