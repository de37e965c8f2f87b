package kafka

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"signaling-service/internal/websocket"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ websocket.CallEventSink = (*CallEventPublisher)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCallEventPublisher_Publishes(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)

	startedAt := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "loverose.call-events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "r1" {
			return errors.New("unexpected key " + string(key))
		}

		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if record["type"] != "call-started" || record["userId"] != "alice" || record["duration"] != float64(30) {
			return errors.New("unexpected record " + string(raw))
		}
		return nil
	})

	publisher := NewCallEventPublisher(producer, "loverose.call-events", discardLogger())
	publisher.PublishCallStarted(websocket.CallStarted{
		RoomID:    "r1",
		UserID:    "alice",
		Duration:  json.RawMessage(`30`),
		StartedAt: startedAt,
	})

	require.NoError(t, publisher.Close())
}

func TestCallEventPublisher_FailureIsNotFatal(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndSucceed()

	publisher := NewCallEventPublisher(producer, "calls", discardLogger())
	publisher.PublishCallStarted(websocket.CallStarted{RoomID: "r1", UserID: "alice"})
	publisher.PublishCallStarted(websocket.CallStarted{RoomID: "r2", UserID: "bob"})

	require.NoError(t, publisher.Close())
}

func TestCallEventPublisher_DropsAfterClose(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	publisher := NewCallEventPublisher(producer, "calls", discardLogger())

	require.NoError(t, publisher.Close())
	publisher.PublishCallStarted(websocket.CallStarted{RoomID: "r1", UserID: "alice"})
	assert.NoError(t, publisher.Close())
}
