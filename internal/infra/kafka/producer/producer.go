package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/pixmix-relay/internal/config"
	"github.com/aliskhannn/pixmix-relay/internal/model"
)

// Producer publishes notification requests to Kafka.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	cfg      *config.Kafka
}

// New creates a new Producer.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(
	cfg *config.Kafka,
	s retry.Strategy,
) *Producer {
	producer := wbfkafka.NewProducer(cfg.Brokers, cfg.Topic)

	return &Producer{
		Client:   producer,
		cfg:      cfg,
		strategy: s,
	}
}

// Notify serializes n to JSON and sends it to Kafka.
// The request ID is used as the message key so retries of one request land on one partition.
func (p *Producer) Notify(ctx context.Context, n model.Notification) error {
	key, data, err := encode(n)
	if err != nil {
		return err
	}

	if err = p.Client.SendWithRetry(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

func encode(n model.Notification) ([]byte, []byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := n.RequestID
	if key == "" {
		key = uuid.NewString()
	}

	return []byte(key), data, nil
}
