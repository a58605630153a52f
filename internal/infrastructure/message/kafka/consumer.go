// Package kafka consumes scored rollout groups from the trajectory intake
// topic. Rollout samplers publish one message per prompt group; the consumer
// decodes them and feeds the trainer's intake phase.
package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/tidwall/gjson"

	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/internal/observability/metrics"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
)

// SchemaVersion is the group message schema this consumer understands
const SchemaVersion = "v1"

// groupMessage is the wire form of one prompt group
type groupMessage struct {
	Schema  string `json:"schema"`
	GroupID string `json:"group_id"`
	Samples []struct {
		ID             string    `json:"id"`
		PromptTokens   []int     `json:"prompt_tokens"`
		ResponseTokens []int     `json:"response_tokens"`
		OldLogProbs    []float64 `json:"old_log_probs,omitempty"`
		RefLogProbs    []float64 `json:"ref_log_probs,omitempty"`
		VerifierLabel  float64   `json:"verifier_label"`
	} `json:"samples"`
}

// ============================================================================
// Group Consumer
// ============================================================================

// GroupConsumer implements the trainer's rollout source over a sarama
// consumer group. Decoded groups are buffered on a channel; Consume drains
// it without splitting deliveries mid-group.
type GroupConsumer struct {
	cfg    config.KafkaConfig
	client sarama.ConsumerGroup

	groups chan *trajectory.Group

	logger    logging.Logger
	collector *metrics.MetricsCollector

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewGroupConsumer connects to the brokers and starts consuming the intake
// topic in the background
func NewGroupConsumer(cfg config.KafkaConfig, logger logging.Logger, collector *metrics.MetricsCollector) (*GroupConsumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true
	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, errors.ConfigErrorf(errors.CodeConfigInvalid,
				"invalid kafka version %q: %v", cfg.Version, err)
		}
		saramaCfg.Version = version
	}

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to create kafka consumer group")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &GroupConsumer{
		cfg:       cfg,
		client:    client,
		groups:    make(chan *trajectory.Group, 256),
		logger:    logger,
		collector: collector,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go c.consumeLoop(ctx)
	go c.errorLoop(ctx)
	return c, nil
}

func (c *GroupConsumer) consumeLoop(ctx context.Context) {
	defer close(c.done)
	handler := &groupHandler{consumer: c}
	for {
		// Consume blocks through one rebalance cycle; loop until cancelled
		if err := c.client.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			c.logger.Error("kafka consume cycle failed", logging.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *GroupConsumer) errorLoop(ctx context.Context) {
	for {
		select {
		case err, ok := <-c.client.Errors():
			if !ok {
				return
			}
			c.logger.Error("kafka consumer error", logging.Error(err))
		case <-ctx.Done():
			return
		}
	}
}

// Consume returns up to maxGroups decoded groups. It blocks until at least
// one group arrives, the fetch timeout lapses, or the context ends. Never
// returns a partially decoded group.
func (c *GroupConsumer) Consume(ctx context.Context, maxGroups int) ([]*trajectory.Group, error) {
	if maxGroups < 1 {
		return nil, nil
	}

	timeout := c.cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out []*trajectory.Group

	// block for the first group
	select {
	case g := <-c.groups:
		out = append(out, g)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// then drain whatever is already buffered
	for len(out) < maxGroups {
		select {
		case g := <-c.groups:
			out = append(out, g)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Close stops the background loops and the underlying consumer group
func (c *GroupConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	<-c.done
	return c.client.Close()
}

// ============================================================================
// Message Decoding
// ============================================================================

// decode turns one message payload into a group. A nil group with a nil
// error means the message was counted and skipped.
func (c *GroupConsumer) decode(payload []byte) *trajectory.Group {
	// cheap schema peek before committing to a full decode
	schema := gjson.GetBytes(payload, "schema").String()
	if schema != "" && schema != SchemaVersion {
		c.countFailure("schema_mismatch")
		c.logger.Warn("skipping group with unsupported schema",
			logging.String("schema", schema))
		return nil
	}
	if !gjson.GetBytes(payload, "samples").IsArray() {
		c.countFailure("malformed")
		c.logger.Warn("skipping group message without samples array")
		return nil
	}

	var msg groupMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.countFailure("decode")
		c.logger.Warn("skipping undecodable group message", logging.Error(err))
		return nil
	}
	if msg.GroupID == "" || len(msg.Samples) == 0 {
		c.countFailure("malformed")
		return nil
	}

	trajs := make([]*trajectory.Trajectory, 0, len(msg.Samples))
	for _, s := range msg.Samples {
		t := trajectory.NewTrajectory(msg.GroupID, s.PromptTokens, s.ResponseTokens, s.VerifierLabel)
		if s.ID != "" {
			t.ID = s.ID
		}
		t.OldLogProbs = s.OldLogProbs
		t.RefLogProbs = s.RefLogProbs
		trajs = append(trajs, t)
	}
	return trajectory.NewGroup(msg.GroupID, trajs)
}

func (c *GroupConsumer) countFailure(reason string) {
	if c.collector != nil {
		c.collector.IncrementCounter("mq_messages_failed_total",
			map[string]string{"topic": c.cfg.Topic, "error_type": reason})
	}
}

// ============================================================================
// Consumer Group Handler
// ============================================================================

// groupHandler adapts sarama's session callbacks onto the group channel
type groupHandler struct {
	consumer *GroupConsumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if g := h.consumer.decode(msg.Value); g != nil {
				select {
				case h.consumer.groups <- g:
					if h.consumer.collector != nil {
						h.consumer.collector.AddCounter("mq_trajectories_consumed_total",
							float64(g.Size()), map[string]string{"topic": h.consumer.cfg.Topic})
					}
				case <-session.Context().Done():
					return nil
				}
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
