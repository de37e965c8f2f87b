package kafka

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"signaling-service/internal/websocket"

	"github.com/IBM/sarama"
)

const (
	clientID          = "signaling-service"
	callEventType     = "call-started"
	callQueueCapacity = 256
)

func InitKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner // events of one room stay ordered
	config.Version = sarama.V2_0_0_0
	config.ClientID = clientID
	config.Producer.MaxMessageBytes = 1000000

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return producer, nil
}

type callEventRecord struct {
	Type string `json:"type"`
	websocket.CallStarted
}

// CallEventPublisher forwards call-started events to a Kafka topic from a
// background worker. Events are dropped when the queue is full.
type CallEventPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger

	queue  chan websocket.CallStarted
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewCallEventPublisher(producer sarama.SyncProducer, topic string, logger *slog.Logger) *CallEventPublisher {
	p := &CallEventPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "call-events", "topic", topic),
		queue:    make(chan websocket.CallStarted, callQueueCapacity),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishCallStarted queues event without blocking.
func (p *CallEventPublisher) PublishCallStarted(event websocket.CallStarted) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Debug("Publisher closed, dropping call event", "roomID", event.RoomID)
		return
	}

	select {
	case p.queue <- event:
	default:
		p.logger.Warn("Call event queue full, dropping event", "roomID", event.RoomID, "userID", event.UserID)
	}
}

func (p *CallEventPublisher) run() {
	defer close(p.done)

	for event := range p.queue {
		if err := p.send(event); err != nil {
			p.logger.Error("Failed to publish call event", "roomID", event.RoomID, "userID", event.UserID, "error", err)
		}
	}
}

func (p *CallEventPublisher) send(event websocket.CallStarted) error {
	value, err := json.Marshal(callEventRecord{Type: callEventType, CallStarted: event})
	if err != nil {
		return fmt.Errorf("failed to marshal call event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.RoomID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return err
	}

	p.logger.Debug("Published call event", "roomID", event.RoomID, "partition", partition, "offset", offset)
	return nil
}

// Close flushes queued events and closes the producer.
func (p *CallEventPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.producer.Close()
}
