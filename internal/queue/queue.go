package queue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/thehao1505/backend-capstone/internal/model"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

const (
	TypeGoChannel = "gochannel"
	TypeNATS      = "nats"

	jobHandlerName    = "embedding_worker"
	poisonHandlerName = "embedding_poison"
	metadataKind      = "kind"
	metadataEntityID  = "entity_id"
)

type Config struct {
	Type        string
	NatsURL     string
	Topic       string
	PoisonTopic string
	// MaxAttempts counts the first delivery, so 3 means two retries.
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
}

// Processor handles one embedding job. Returning an error wrapped with
// ErrPermanent acknowledges the job without retrying it.
type Processor interface {
	ProcessJob(ctx context.Context, job model.EmbeddingJob) error
}

// ExhaustedFunc is called once per job that failed every attempt.
type ExhaustedFunc func(ctx context.Context, job model.EmbeddingJob, reason string)

// Queue carries embedding jobs from request paths to the worker. Delivery
// is at least once; processing is idempotent on the consumer side.
type Queue struct {
	cfg       Config
	logger    watermill.LoggerAdapter
	pub       message.Publisher
	sub       message.Subscriber
	poisonSub message.Subscriber

	mu      sync.Mutex
	router  *message.Router
	closed  bool
	started chan struct{}
	once    sync.Once
}

func New(cfg Config, logger watermill.LoggerAdapter) (*Queue, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	q := &Queue{cfg: cfg, logger: logger, started: make(chan struct{})}
	switch cfg.Type {
	case TypeGoChannel:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		q.pub, q.sub, q.poisonSub = ch, ch, ch
	case TypeNATS:
		if err := q.openNATS(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported queue type %q: %w", cfg.Type, appErr.ErrInvalid)
	}
	return q, nil
}

func (c *Config) normalize() error {
	if c.Type == "" {
		c.Type = TypeGoChannel
	}
	if c.Topic == "" || c.PoisonTopic == "" {
		return fmt.Errorf("queue topics are required: %w", appErr.ErrInvalid)
	}
	if c.Topic == c.PoisonTopic {
		return fmt.Errorf("poison topic must differ from job topic: %w", appErr.ErrInvalid)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	return nil
}

func (q *Queue) openNATS() error {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				q.logger.Error("nats disconnected", err, nil)
			}
		}),
	}
	jetStream := wmNats.JetStreamConfig{
		AutoProvision: true,
		TrackMsgId:    true,
		DurablePrefix: "feedrec",
	}
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         q.cfg.NatsURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   jetStream,
	}, q.logger)
	if err != nil {
		return fmt.Errorf("create nats publisher: %w: %v", appErr.ErrDependency, err)
	}
	newSub := func() (message.Subscriber, error) {
		return wmNats.NewSubscriber(wmNats.SubscriberConfig{
			URL:              q.cfg.NatsURL,
			QueueGroupPrefix: "feedrec",
			SubscribersCount: 1,
			AckWaitTimeout:   time.Minute,
			CloseTimeout:     30 * time.Second,
			NatsOptions:      natsOpts,
			Unmarshaler:      &wmNats.NATSMarshaler{},
			JetStream:        jetStream,
		}, q.logger)
	}
	sub, err := newSub()
	if err != nil {
		_ = pub.Close()
		return fmt.Errorf("create nats subscriber: %w: %v", appErr.ErrDependency, err)
	}
	poisonSub, err := newSub()
	if err != nil {
		_ = pub.Close()
		_ = sub.Close()
		return fmt.Errorf("create nats poison subscriber: %w: %v", appErr.ErrDependency, err)
	}
	q.pub, q.sub, q.poisonSub = pub, sub, poisonSub
	return nil
}

// Publish enqueues a job without waiting for it to be processed.
func (q *Queue) Publish(ctx context.Context, job model.EmbeddingJob) error {
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = time.Now().Unix()
	}
	payload, err := EncodeJob(job)
	if err != nil {
		return err
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(metadataKind, string(job.Kind))
	msg.Metadata.Set(metadataEntityID, job.EntityID)
	if q.cfg.Type == TypeNATS {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}
	if err := q.pub.Publish(q.cfg.Topic, msg); err != nil {
		return fmt.Errorf("publish embedding job: %w: %v", appErr.ErrDependency, err)
	}
	logutil.GetLogger(ctx).Debug("embedding job enqueued",
		zap.String("kind", string(job.Kind)),
		zap.String("entity_id", job.EntityID),
		zap.String("message_id", msg.UUID),
	)
	return nil
}

// RetryPolicy returns the retry middleware for the configured attempts.
// Delays are InitialInterval * Multiplier^n with no jitter.
func (q *Queue) RetryPolicy() middleware.Retry {
	retries := q.cfg.MaxAttempts - 1
	maxInterval := time.Duration(float64(q.cfg.InitialInterval) * math.Pow(q.cfg.Multiplier, float64(max(retries, 1))))
	return middleware.Retry{
		MaxRetries:          retries,
		InitialInterval:     q.cfg.InitialInterval,
		MaxInterval:         maxInterval,
		Multiplier:          q.cfg.Multiplier,
		RandomizationFactor: 0,
		Logger:              q.logger,
	}
}

// Run consumes jobs until ctx is cancelled. Jobs that keep failing are
// moved to the poison topic and handed to onExhausted.
func (q *Queue) Run(ctx context.Context, processor Processor, onExhausted ExhaustedFunc) error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, q.logger)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	poison, err := middleware.PoisonQueue(q.pub, q.cfg.PoisonTopic)
	if err != nil {
		return fmt.Errorf("create poison queue: %w", err)
	}
	router.AddMiddleware(
		poison,
		q.RetryPolicy().Middleware,
		middleware.Recoverer,
	)
	router.AddConsumerHandler(jobHandlerName, q.cfg.Topic, q.sub, func(msg *message.Message) error {
		return q.handleJob(msg, processor)
	})
	router.AddConsumerHandler(poisonHandlerName, q.cfg.PoisonTopic, q.poisonSub, func(msg *message.Message) error {
		q.handlePoison(msg, onExhausted)
		return nil
	})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	q.router = router
	q.mu.Unlock()
	go func() {
		select {
		case <-router.Running():
			q.once.Do(func() { close(q.started) })
		case <-ctx.Done():
		}
	}()
	return router.Run(ctx)
}

// Running is closed once the router started consuming.
func (q *Queue) Running() <-chan struct{} {
	return q.started
}

func (q *Queue) handleJob(msg *message.Message, processor Processor) error {
	ctx := msg.Context()
	job, err := DecodeJob(msg.Payload)
	if err != nil {
		logutil.GetLogger(ctx).Error("drop malformed embedding job", zap.String("message_id", msg.UUID), zap.Error(err))
		return nil
	}
	err = processor.ProcessJob(ctx, job)
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		logutil.GetLogger(ctx).Warn("embedding job dropped",
			zap.String("kind", string(job.Kind)),
			zap.String("entity_id", job.EntityID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func (q *Queue) handlePoison(msg *message.Message, onExhausted ExhaustedFunc) {
	ctx := msg.Context()
	reason := msg.Metadata.Get(middleware.ReasonForPoisonedKey)
	job, err := DecodeJob(msg.Payload)
	if err != nil {
		logutil.GetLogger(ctx).Error("undecodable poisoned message", zap.String("message_id", msg.UUID), zap.Error(err))
		return
	}
	logutil.GetLogger(ctx).Error("embedding job exhausted retries",
		zap.String("kind", string(job.Kind)),
		zap.String("entity_id", job.EntityID),
		zap.String("reason", reason),
	)
	if onExhausted != nil {
		onExhausted(ctx, job, reason)
	}
}

func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	router := q.router
	q.mu.Unlock()

	var firstErr error
	if router != nil {
		if err := router.Close(); err != nil {
			firstErr = err
		}
	}
	closers := []interface{ Close() error }{q.sub, q.pub}
	if q.poisonSub != q.sub {
		closers = append(closers, q.poisonSub)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
