package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/internal/platform/metrics"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

// TranslationJob is the wire payload on the worker stream. It is
// self-contained so any instance's worker can pick it up.
type TranslationJob struct {
	RequestID      uuid.UUID `json:"request_id"`
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Content        string    `json:"content"`
	ContentHash    string    `json:"content_hash"`
	Source         string    `json:"source"`
	Target         string    `json:"target"`
	Attempt        int       `json:"attempt"`
}

// WorkerResult is what the worker reports back per job.
type WorkerResult struct {
	Job  TranslationJob
	Text string
	Err  error
}

type CoordinatorConfig struct {
	Stream      string
	MaxLength   int
	MaxAttempts int
	RetryBase   time.Duration
}

type inflightEntry struct {
	req     *domain.TranslationRequest
	bo      backoff.BackOff
	waiters int
}

// Coordinator decouples persistence from translation. It owns the
// per-(message, target) state machine: pending → inflight → done|failed,
// with failed allowed back to pending on retry.
//
// The dedup map is instance-local; the content-hash cache is shared, so a
// request first enqueued on another instance still hits the cache here.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[domain.TranslationKey]*inflightEntry

	cache    contracts.TranslationCache
	queue    contracts.JobQueue
	registry contracts.Registry
	store    domain.TranslationRepository

	metrics *metrics.Metrics
	log     *slog.Logger
	clock   clock.Clock
	cfg     CoordinatorConfig
}

func NewCoordinator(
	log *slog.Logger,
	cache contracts.TranslationCache,
	queue contracts.JobQueue,
	registry contracts.Registry,
	store domain.TranslationRepository,
	m *metrics.Metrics,
	clk clock.Clock,
	cfg CoordinatorConfig,
) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	return &Coordinator{
		inflight: make(map[domain.TranslationKey]*inflightEntry),
		cache:    cache,
		queue:    queue,
		registry: registry,
		store:    store,
		metrics:  m,
		log:      log,
		clock:    clk,
		cfg:      cfg,
	}
}

// Enqueue submits one translation request per target language. Cache hits
// complete immediately without touching the worker pool; duplicate keys
// attach to the in-flight request instead of dispatching twice.
func (c *Coordinator) Enqueue(ctx context.Context, msg *domain.Message, targets []string) {
	if msg.OriginalLanguage == "" || len(targets) == 0 {
		return
	}
	if c.cfg.MaxLength > 0 && len(msg.Content) > c.cfg.MaxLength {
		c.log.InfoContext(ctx, "translation - enqueue - content over limit, skipped",
			logging.Message(msg.ID.String()), slog.Int("length", len(msg.Content)))
		return
	}

	hash := ContentHash(msg.Content)
	for _, target := range targets {
		if target == msg.OriginalLanguage {
			continue
		}
		c.enqueueOne(ctx, msg, target, hash)
	}
}

func (c *Coordinator) enqueueOne(ctx context.Context, msg *domain.Message, target, hash string) {
	if text, ok, err := c.cache.Get(ctx, msg.OriginalLanguage, target, hash); err == nil && ok {
		c.metrics.IncCacheHit()
		c.complete(ctx, msg.ID, msg.ConversationID, target, text, true)
		return
	} else if err != nil {
		c.log.WarnContext(ctx, "translation - enqueue - cache read failed", logging.Err(err))
	}

	key := domain.TranslationKey{MessageID: msg.ID, TargetLanguage: target}
	job := TranslationJob{
		RequestID:      uuid.New(),
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		ContentHash:    hash,
		Source:         msg.OriginalLanguage,
		Target:         target,
	}

	c.mu.Lock()
	if entry, ok := c.inflight[key]; ok && !entry.req.Status.Terminal() {
		// Collapse duplicate work; completion notifies everyone via the
		// room broadcast.
		entry.waiters++
		c.mu.Unlock()
		return
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBase
	bo.MaxElapsedTime = 0
	c.inflight[key] = &inflightEntry{
		req: &domain.TranslationRequest{
			ID:             job.RequestID,
			Key:            key,
			ConversationID: msg.ConversationID,
			SourceLanguage: msg.OriginalLanguage,
			Status:         domain.TranslationPending,
		},
		bo: bo,
	}
	c.mu.Unlock()

	c.dispatch(ctx, key, job)
}

func (c *Coordinator) dispatch(ctx context.Context, key domain.TranslationKey, job TranslationJob) {
	data, err := json.Marshal(job)
	if err != nil {
		c.fail(ctx, key, job)
		return
	}
	c.mu.Lock()
	if entry, ok := c.inflight[key]; ok {
		entry.req.Status = domain.TranslationInflight
	}
	c.mu.Unlock()
	if err := c.queue.Publish(ctx, c.cfg.Stream, data); err != nil {
		c.log.ErrorContext(ctx, "translation - dispatch - publish failed",
			logging.Message(job.MessageID.String()), logging.Language(job.Target), logging.Err(err))
		c.retryOrFail(ctx, key, job)
		return
	}
	c.metrics.IncTranslationJob()
}

// OnWorkerResult is the worker pool's completion callback. Results may
// arrive out of order; clients reconcile by (message id, target language).
func (c *Coordinator) OnWorkerResult(ctx context.Context, res WorkerResult) {
	key := domain.TranslationKey{MessageID: res.Job.MessageID, TargetLanguage: res.Job.Target}
	if res.Err != nil {
		c.log.WarnContext(ctx, "translation - worker result - job failed",
			logging.Message(res.Job.MessageID.String()), logging.Language(res.Job.Target),
			slog.Int("attempt", res.Job.Attempt), logging.Err(res.Err))
		c.retryOrFail(ctx, key, res.Job)
		return
	}

	c.mu.Lock()
	entry, tracked := c.inflight[key]
	if tracked {
		now := c.clock.Now()
		entry.req.Status = domain.TranslationDone
		entry.req.ResultText = res.Text
		entry.req.CompletedAt = &now
		delete(c.inflight, key)
		if entry.waiters > 0 {
			c.log.Debug("translation - worker result - waiters collapsed",
				slog.Int("waiters", entry.waiters))
		}
	}
	c.mu.Unlock()

	if err := c.cache.Put(ctx, res.Job.Source, res.Job.Target, res.Job.ContentHash, res.Text); err != nil {
		c.log.WarnContext(ctx, "translation - worker result - cache write failed", logging.Err(err))
	}
	c.complete(ctx, res.Job.MessageID, res.Job.ConversationID, res.Job.Target, res.Text, false)
}

// complete persists the translation and pushes translation:ready to the
// room.
func (c *Coordinator) complete(ctx context.Context, messageID, convID uuid.UUID, target, text string, fromCache bool) {
	if err := c.store.Save(ctx, &domain.Translation{
		MessageID:      messageID,
		ConversationID: convID,
		TargetLanguage: target,
		Text:           text,
		CreatedAt:      c.clock.Now(),
	}); err != nil {
		c.log.WarnContext(ctx, "translation - complete - persist failed",
			logging.Message(messageID.String()), logging.Err(err))
	}
	c.registry.Emit(ctx, convID.String(), domain.TranslationReadyEvent{
		Kind:           domain.KindTranslationReady,
		MessageID:      messageID.String(),
		TargetLanguage: target,
		Text:           text,
		FromCache:      fromCache,
	})
}

func (c *Coordinator) retryOrFail(ctx context.Context, key domain.TranslationKey, job TranslationJob) {
	c.mu.Lock()
	entry, tracked := c.inflight[key]
	if !tracked {
		// Enqueued by another instance; leave retry scheduling to it.
		c.mu.Unlock()
		return
	}
	entry.req.Attempts++
	if entry.req.Attempts >= c.cfg.MaxAttempts {
		entry.req.Status = domain.TranslationFailed
		c.mu.Unlock()
		c.fail(ctx, key, job)
		return
	}
	entry.req.Status = domain.TranslationPending
	delay := entry.bo.NextBackOff()
	attempt := entry.req.Attempts
	c.mu.Unlock()

	c.metrics.IncTranslationRetry()
	retryJob := job
	retryJob.Attempt = attempt
	c.clock.AfterFunc(delay, func() {
		// Detached from the original request on purpose: the sender is
		// long gone by the time a retry fires.
		c.dispatch(context.WithoutCancel(ctx), key, retryJob)
	})
}

// fail marks the request terminally failed. It stays visible as failed
// rather than silently disappearing, and the room gets a non-blocking warning.
func (c *Coordinator) fail(ctx context.Context, key domain.TranslationKey, job TranslationJob) {
	now := c.clock.Now()
	c.mu.Lock()
	if entry, ok := c.inflight[key]; ok {
		entry.req.Status = domain.TranslationFailed
		entry.req.CompletedAt = &now
	}
	c.mu.Unlock()

	c.metrics.IncTranslationFailure()
	c.registry.Emit(ctx, job.ConversationID.String(), domain.TranslationFailedEvent{
		Kind:           domain.KindTranslationFailed,
		MessageID:      job.MessageID.String(),
		TargetLanguage: job.Target,
		Code:           domain.ErrorCode(domain.ErrTranslationFailed),
	})
}

// Status exposes the state machine for a key. Used by diagnostics and
// tests; absent keys report done-or-never-requested as false.
func (c *Coordinator) Status(key domain.TranslationKey) (domain.TranslationStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.inflight[key]
	if !ok {
		return "", false
	}
	return entry.req.Status, true
}
