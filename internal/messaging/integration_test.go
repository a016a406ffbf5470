//go:build integration

package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fiction-server/pkg/imagejobs"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"go.uber.org/zap"
)

func TestImageEventPublisher_RabbitMQ(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode.")
	}
	ctx := context.Background()

	container, err := tcrabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
	require.NoError(t, err, "Failed to start rabbitmq container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)
	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	publisher, err := NewImageEventPublisher(conn, "image_job_events_test", logger)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go publisher.Run(runCtx)

	publisher.Handle(imagejobs.Report{JobID: "job-1", OwnerID: "s1", SceneID: "tavern", Status: imagejobs.StatusReady, Progress: 100})

	consumer, err := conn.Channel()
	require.NoError(t, err)
	defer consumer.Close()
	deliveries, err := consumer.Consume("image_job_events_test", "", true, false, false, false, nil)
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		var ev ImageJobEvent
		require.NoError(t, json.Unmarshal(d.Body, &ev))
		assert.Equal(t, "job-1", ev.JobID)
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, imagejobs.StatusReady, ev.Status)
		assert.Equal(t, appID, d.AppId)
	case <-time.After(10 * time.Second):
		t.Fatal("event was not delivered")
	}

	require.NoError(t, publisher.Close(ctx))
}
