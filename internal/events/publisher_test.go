package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/types"
)

type fakeSQS struct {
	sent []*sqs.SendMessageInput
	err  error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &sqs.SendMessageOutput{}, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestPublisher_WrapsPayloadInEnvelope(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	client := &fakeSQS{}
	p := NewPublisher(client, "https://sqs.test/queue", fixedClock{now}, slog.Default())

	err := p.Publish(context.Background(), types.EventThresholdReached, types.ThresholdReachedEvent{
		TenantID: "t1",
		Metric:   types.MetricEmails,
		Period:   "2026-08",
		Pct:      0.80,
		Used:     400,
		Cap:      500,
	})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "https://sqs.test/queue", *client.sent[0].QueueUrl)

	var env types.EventEnvelope
	require.NoError(t, json.Unmarshal([]byte(*client.sent[0].MessageBody), &env))
	assert.True(t, strings.HasPrefix(env.EventID, "evt_"))
	assert.Equal(t, types.EventThresholdReached, env.EventType)
	assert.Equal(t, now, env.Timestamp)
	assert.Equal(t, "metergate", env.Source)

	var payload types.ThresholdReachedEvent
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "t1", payload.TenantID)
	assert.Equal(t, 0.80, payload.Pct)
}

func TestPublisher_SendFailureIsUpstreamError(t *testing.T) {
	client := &fakeSQS{err: errors.New("queue unreachable")}
	p := NewPublisher(client, "https://sqs.test/queue", fixedClock{time.Now()}, slog.Default())

	err := p.Publish(context.Background(), types.EventCapHit, types.CapHitEvent{
		TenantID: "t1",
		Metric:   types.MetricSMS,
		Reason:   types.DenySpendCap,
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamEvents, appErr.Code)
	assert.True(t, appErr.Code.Transient())
}

func TestPublisher_UniqueEventIDs(t *testing.T) {
	client := &fakeSQS{}
	p := NewPublisher(client, "q", fixedClock{time.Now()}, slog.Default())

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(context.Background(), types.EventCapHit, types.CapHitEvent{TenantID: "t1"}))
	}

	seen := make(map[string]bool)
	for _, msg := range client.sent {
		var env types.EventEnvelope
		require.NoError(t, json.Unmarshal([]byte(*msg.MessageBody), &env))
		assert.False(t, seen[env.EventID])
		seen[env.EventID] = true
	}
}
