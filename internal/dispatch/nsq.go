package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

// Producer is the subset of *nsq.Producer used for publishing
type Producer interface {
	Publish(topic string, body []byte) error
	Stop()
}

func NewProducer(nsqdTCPAddr string) (*nsq.Producer, error) {
	p, err := nsq.NewProducer(nsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	p.SetLoggerLevel(nsq.LogLevelWarning)
	return p, nil
}

// Publisher schedules tasks by publishing them to the deliveries topic
type Publisher struct {
	producer Producer
	topic    string
	logger   *logging.Logger
}

func NewPublisher(producer Producer, topic string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Publisher{producer: producer, topic: topic, logger: logger}
}

func (p *Publisher) Schedule(ctx context.Context, t delivery.Task) error {
	if len(t.TraceHeaders) == 0 {
		t.TraceHeaders = tracing.InjectHeaders(ctx)
	}
	b, err := json.Marshal(t)
	if err != nil {
		metrics.RecordDispatchError(config.DispatchNSQ)
		return fmt.Errorf("encode task: %w", err)
	}
	tracing.AddSpanEvent(ctx, "nsq.publish", attribute.String("topic", p.topic))
	if err := p.producer.Publish(p.topic, b); err != nil {
		metrics.RecordDispatchError(config.DispatchNSQ)
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("nsq publish: %w", err)
	}
	p.logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithField("topic", p.topic).Debug("task published")
	return nil
}

// DeadLetterPublisher publishes dead-letter envelopes to the DLQ topic
type DeadLetterPublisher struct {
	producer Producer
	topic    string
}

func NewDeadLetterPublisher(producer Producer, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{producer: producer, topic: topic}
}

func (d *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, dl delivery.DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := d.producer.Publish(d.topic, b); err != nil {
		return fmt.Errorf("dlq publish: %w", err)
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dlq", attribute.String("topic", d.topic))
	return nil
}

// Handler turns NSQ messages into attempt loops
type Handler struct {
	ctx    context.Context
	runner Runner
	logger *logging.Logger
}

func NewHandler(ctx context.Context, runner Runner, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{ctx: ctx, runner: runner, logger: logger}
}

// HandleMessage runs the attempt loop to completion. Undecodable payloads are
// finished rather than requeued.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	t, err := delivery.DecodeTask(m.Body)
	if err != nil {
		h.logger.Plain().WithError(err).Error("bad task payload")
		return nil
	}
	if t.DeliveryID == "" {
		h.logger.Plain().Error("task payload without delivery_id")
		return nil
	}
	h.runner.RunDelivery(h.ctx, t)
	return nil
}

// Consumer reads the deliveries topic on the worker channel
type Consumer struct {
	consumer *nsq.Consumer
	cancel   context.CancelFunc
	logger   *logging.Logger
}

const (
	// MaxMsgTimeout is nsqd's default --max-msg-timeout
	MaxMsgTimeout = 15 * time.Minute

	minMsgTimeout    = 2 * time.Minute
	msgTimeoutMargin = 30 * time.Second
)

// MsgTimeout covers the policy's worst-case loop so nsqd does not redeliver
// a message whose loop is still running.
func MsgTimeout(p delivery.Policy) (time.Duration, error) {
	d := p.WorstCase() + msgTimeoutMargin
	if d > MaxMsgTimeout {
		return 0, fmt.Errorf("worst-case delivery loop %s exceeds nsqd max message timeout %s", p.WorstCase(), MaxMsgTimeout)
	}
	return max(d, minMsgTimeout), nil
}

func NewConsumer(cfg config.NSQ, concurrency int, policy delivery.Policy, runner Runner, logger *logging.Logger) (*Consumer, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	timeout, err := MsgTimeout(policy)
	if err != nil {
		return nil, err
	}
	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.MaxInFlight
	conf.MsgTimeout = timeout

	c, err := nsq.NewConsumer(cfg.DeliveriesTopic, cfg.WorkerChannel, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	c.SetLoggerLevel(nsq.LogLevelWarning)

	ctx, cancel := context.WithCancel(context.Background())
	c.AddConcurrentHandlers(NewHandler(ctx, runner, logger), concurrency)
	return &Consumer{consumer: c, cancel: cancel, logger: logger}, nil
}

// Connect dials nsqd directly so the channel exists before the first publish,
// then registers with lookupd when an address is given
func (c *Consumer) Connect(nsqdTCPAddr, lookupHTTPAddr string) error {
	if err := c.consumer.ConnectToNSQD(nsqdTCPAddr); err != nil {
		return fmt.Errorf("connect to nsqd: %w", err)
	}
	if lookupHTTPAddr != "" {
		if err := c.consumer.ConnectToNSQLookupd(lookupHTTPAddr); err != nil {
			return fmt.Errorf("connect to lookupd: %w", err)
		}
	}
	return nil
}

// Stop drains in-flight handlers, cancelling their loops after timeout
func (c *Consumer) Stop(timeout time.Duration) {
	c.consumer.Stop()
	select {
	case <-c.consumer.StopChan:
	case <-time.After(timeout):
		c.logger.Plain().Warn("consumer stop timed out, cancelling in-flight deliveries")
		c.cancel()
		<-c.consumer.StopChan
	}
	c.cancel()
}
