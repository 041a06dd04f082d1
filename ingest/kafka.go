package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/IBM/sarama"

	"basecamp/deduplication"
	"basecamp/types"
)

// Processor is the pipeline surface the consumer drives.
type Processor interface {
	ProcessLead(ctx context.Context, input *types.LeadInput) (*types.Lead, *deduplication.Verdict, error)
	EnrichAndSync(ctx context.Context, lead *types.Lead)
}

// Consumer pulls lead submissions off a Kafka topic and feeds them through
// the intake pipeline. Messages are JSON-encoded LeadInput values.
type Consumer struct {
	group     sarama.ConsumerGroup
	processor Processor
	topic     string
	groupID   string
	ready     chan bool
}

// ConsumerConfig holds Kafka intake settings.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewConsumer creates a consumer group for the lead intake topic.
func NewConsumer(cfg ConsumerConfig, processor Processor) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:     group,
		processor: processor,
		topic:     cfg.Topic,
		groupID:   cfg.GroupID,
		ready:     make(chan bool),
	}, nil
}

// Start begins consuming. It returns once the first session is established
// and keeps consuming until the context is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	handler := &sessionHandler{consumer: c, ready: c.ready}

	go func() {
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Printf("Warning: kafka consume error: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
			handler.ready = make(chan bool)
		}
	}()

	<-c.ready
	log.Printf("Kafka intake started (group: %s, topic: %s)", c.groupID, c.topic)

	go func() {
		for err := range c.group.Errors() {
			log.Printf("Warning: kafka consumer error: %v", err)
		}
	}()

	return nil
}

// Close shuts down the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type sessionHandler struct {
	consumer *Consumer
	ready    chan bool
}

func (h *sessionHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *sessionHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *sessionHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if h.consumer.handleMessage(session.Context(), message.Value) {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage processes one submission and reports whether to mark the
// offset. Malformed and invalid messages are marked and skipped; transient
// backend failures leave the offset unmarked so the message is retried.
func (c *Consumer) handleMessage(ctx context.Context, value []byte) bool {
	var input types.LeadInput
	if err := json.Unmarshal(value, &input); err != nil {
		log.Printf("Warning: skipping malformed lead message: %v", err)
		return true
	}

	lead, verdict, err := c.processor.ProcessLead(ctx, &input)
	if err != nil {
		if errors.Is(err, deduplication.ErrEmptyText) || errors.Is(err, deduplication.ErrInvalidArgument) {
			log.Printf("Warning: skipping invalid lead message: %v", err)
			return true
		}
		log.Printf("Warning: lead processing failed, will retry: %v", err)
		return false
	}

	log.Printf("Processed lead %s from kafka (%s)", lead.ID, verdict.Classification)
	c.processor.EnrichAndSync(ctx, lead)
	return true
}
