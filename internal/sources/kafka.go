package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"

	"github.com/lensfeed/lensfeed/internal/models"
)

const (
	kafkaReadTimeout    = time.Second
	kafkaOpTimeout      = 10 * time.Second
	kafkaDefaultLimit   = 100
	kafkaRetryDelay     = 2 * time.Second
	kafkaMaxReadRetries = 5
)

// KafkaConfig configures a KafkaSource.
type KafkaConfig struct {
	Name    string
	Broker  string
	Topic   string
	GroupID string
	Logger  *slog.Logger
}

// KafkaSource reads JSON-encoded records from one Kafka topic. Live
// delivery tails the topic from the latest offset; historical queries run
// an ephemeral consumer that seeks back below the time bound with
// OffsetsForTimes. Each subscription gets its own consumer group so every
// session sees the full stream.
type KafkaSource struct {
	name   string
	broker string
	topic  string
	group  string
	logger *slog.Logger
}

func NewKafkaSource(cfg KafkaConfig) (*KafkaSource, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("[KafkaSource] Broker and topic are required")
	}
	if cfg.Name == "" {
		cfg.Name = "kafka"
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "lensfeed"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &KafkaSource{
		name:   cfg.Name,
		broker: cfg.Broker,
		topic:  cfg.Topic,
		group:  cfg.GroupID,
		logger: cfg.Logger,
	}, nil
}

func (s *KafkaSource) Name() string { return s.name }

// Connect probes the broker by asking for the topic's metadata.
func (s *KafkaSource) Connect(ctx context.Context) error {
	c, err := s.newConsumer("earliest", false)
	if err != nil {
		return err
	}
	defer c.Close()

	deadline := kafkaOpTimeout
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < deadline {
			deadline = until
		}
	}
	md, err := c.GetMetadata(&s.topic, false, int(deadline/time.Millisecond))
	if err != nil {
		return fmt.Errorf("[KafkaSource] Failed to fetch metadata: %w", err)
	}
	if t, ok := md.Topics[s.topic]; !ok || t.Error.Code() != kafka.ErrNoError {
		return fmt.Errorf("[KafkaSource] Topic %s unavailable", s.topic)
	}
	return nil
}

// QueryHistorical reads the newest messages at or below f.Until. For each
// partition it resolves the first offset past the bound, steps back up to
// the page limit, and replays from there; payload timestamps decide what
// is kept.
func (s *KafkaSource) QueryHistorical(ctx context.Context, f models.Filter) ([]models.RawRecord, error) {
	until := models.Now()
	if f.Until != nil {
		until = *f.Until
	}
	limit := f.Limit
	if limit <= 0 {
		limit = kafkaDefaultLimit
	}

	c, err := s.newConsumer("earliest", false)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	md, err := c.GetMetadata(&s.topic, false, int(kafkaOpTimeout/time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("[KafkaSource] Failed to fetch metadata: %w", err)
	}
	topicMD, ok := md.Topics[s.topic]
	if !ok || len(topicMD.Partitions) == 0 {
		s.logger.Warn("[KafkaSource] Topic has no partitions", slog.String("topic", s.topic))
		return nil, nil
	}

	// First offset whose broker timestamp is past the inclusive bound,
	// per partition.
	times := make([]kafka.TopicPartition, 0, len(topicMD.Partitions))
	for _, p := range topicMD.Partitions {
		times = append(times, kafka.TopicPartition{
			Topic:     &s.topic,
			Partition: p.ID,
			Offset:    kafka.Offset((int64(until) + 1) * 1000),
		})
	}
	bounds, err := c.OffsetsForTimes(times, int(kafkaOpTimeout/time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("[KafkaSource] Failed to resolve offsets for time bound: %w", err)
	}

	assigned := make([]kafka.TopicPartition, 0, len(bounds))
	ends := make(map[int32]int64, len(bounds))
	for _, b := range bounds {
		low, high, err := c.QueryWatermarkOffsets(s.topic, b.Partition, int(kafkaOpTimeout/time.Millisecond))
		if err != nil {
			return nil, fmt.Errorf("[KafkaSource] Failed to query watermarks: %w", err)
		}
		end := int64(b.Offset)
		if end < 0 || end > high {
			// No message past the bound: everything up to the high
			// watermark is eligible.
			end = high
		}
		start := end - int64(limit)
		if start < low {
			start = low
		}
		if start >= end {
			continue
		}
		assigned = append(assigned, kafka.TopicPartition{
			Topic:     &s.topic,
			Partition: b.Partition,
			Offset:    kafka.Offset(start),
		})
		ends[b.Partition] = end
	}
	if len(assigned) == 0 {
		return nil, nil
	}
	if err := c.Assign(assigned); err != nil {
		return nil, fmt.Errorf("[KafkaSource] Failed to assign partitions: %w", err)
	}

	var out []models.RawRecord
	deadline := time.Now().Add(kafkaOpTimeout)
	for len(ends) > 0 && time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg, err := c.ReadMessage(kafkaReadTimeout)
		if err != nil {
			if kafkaErr, ok := err.(kafka.Error); ok {
				switch kafkaErr.Code() {
				case kafka.ErrTimedOut:
					continue
				case kafka.ErrPartitionEOF:
					continue
				}
			}
			return nil, fmt.Errorf("[KafkaSource] Failed to read message: %w", err)
		}

		partition := msg.TopicPartition.Partition
		end, tracked := ends[partition]
		if !tracked {
			continue
		}
		if int64(msg.TopicPartition.Offset) < end {
			var r models.RawRecord
			if err := json.Unmarshal(msg.Value, &r); err != nil {
				s.logger.Warn("[KafkaSource] Skipping undecodable message",
					slog.String("topic", s.topic),
					slog.String("error", err.Error()))
			} else if f.Matches(r) {
				out = append(out, r)
			}
		}
		if int64(msg.TopicPartition.Offset)+1 >= end {
			delete(ends, partition)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SubscribeLive tails the topic from the latest offset and delivers every
// matching record. Read failures are retried; the loop aborts only when
// all brokers are down.
func (s *KafkaSource) SubscribeLive(ctx context.Context, f models.Filter, onRecord func(models.RawRecord), onClosed func(error)) (func(), error) {
	c, err := s.newConsumer("latest", true)
	if err != nil {
		return nil, err
	}
	if err := c.SubscribeTopics([]string{s.topic}, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("[KafkaSource] Failed to subscribe to topic: %w", err)
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }

	go func() {
		var terminal error
		defer func() {
			c.Close()
			if onClosed != nil {
				onClosed(terminal)
			}
		}()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			default:
			}

			msg, err := c.ReadMessage(kafkaReadTimeout)
			if err != nil {
				if kafkaErr, ok := err.(kafka.Error); ok {
					if kafkaErr.Code() == kafka.ErrTimedOut {
						failures = 0
						continue
					}
					if kafkaErr.Code() == kafka.ErrAllBrokersDown {
						s.logger.Error("[KafkaSource] All Kafka brokers are down. Aborting")
						terminal = err
						return
					}
				}
				failures++
				if failures >= kafkaMaxReadRetries {
					s.logger.Error("[KafkaSource] Giving up after repeated read failures",
						slog.String("error", err.Error()))
					terminal = err
					return
				}
				s.logger.Warn("[KafkaSource] Failed to read message, retrying...",
					slog.Int("attempt", failures),
					slog.Int("max_retries", kafkaMaxReadRetries),
					slog.String("error", err.Error()))
				time.Sleep(kafkaRetryDelay)
				continue
			}
			failures = 0

			var r models.RawRecord
			if err := json.Unmarshal(msg.Value, &r); err != nil {
				s.logger.Warn("[KafkaSource] Skipping undecodable message",
					slog.String("topic", s.topic),
					slog.String("error", err.Error()))
				continue
			}
			if !f.Matches(r) {
				continue
			}
			onRecord(r)
		}
	}()
	return stop, nil
}

func (s *KafkaSource) Close() error { return nil }

// newConsumer builds a consumer with a per-use group id, so historical
// replays and live tails never share offsets.
func (s *KafkaSource) newConsumer(offsetReset string, autoCommit bool) (*kafka.Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  s.broker,
		"group.id":           fmt.Sprintf("%s-%s", s.group, uuid.NewString()),
		"auto.offset.reset":  offsetReset,
		"enable.auto.commit": autoCommit,
		"isolation.level":    "read_committed",
	})
	if err != nil {
		return nil, fmt.Errorf("[KafkaSource] Failed to create consumer: %w", err)
	}
	return c, nil
}
