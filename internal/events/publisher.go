// Package events publishes the engine's asynchronous notifications (threshold
// crossings, cap hits, tier transitions) to SQS and emits decision metrics to
// CloudWatch. The authorization path treats publishing as best-effort:
// delivery is at-least-once and never blocks or fails a decision.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"metergate/internal/types"
)

// eventSource identifies this component in event envelopes.
const eventSource = "metergate"

// envelopeVersion is the event schema version consumers pin against.
const envelopeVersion = "1"

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher is the engine's event emitter. Consumers deduplicate on the
// envelope's EventID; the engine itself guards threshold events with alert
// state before calling Publish.
type Publisher struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

// NewPublisher creates a Publisher targeting the given SQS queue.
func NewPublisher(client SQSSender, queueURL string, clock types.Clock, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:   client,
		queueURL: queueURL,
		clock:    clock,
		logger:   logger,
	}
}

// Publish wraps the payload in a versioned envelope and sends it. The
// returned error carries the upstream_event_bus_unavailable code; callers on
// the hot path log it and move on rather than failing the authorization.
func (p *Publisher) Publish(ctx context.Context, eventType types.EventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal event payload", err)
	}

	env := types.EventEnvelope{
		EventID:   "evt_" + uuid.NewString(),
		EventType: eventType,
		Timestamp: p.clock.Now(),
		Source:    eventSource,
		Version:   envelopeVersion,
		Payload:   raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal event envelope", err)
	}

	start := time.Now()
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamEvents, "failed to publish event", err)
	}

	p.logger.Info("event published",
		"event_id", env.EventID,
		"event_type", string(eventType),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
