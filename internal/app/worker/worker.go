package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/services"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

// TranslationWorker drains the translation job stream, calls the translator
// backend, and reports every outcome back to the coordinator. It never
// decides retries itself; success and failure alike go through
// OnWorkerResult so the state machine stays in one place.
type TranslationWorker struct {
	log         *slog.Logger
	queue       contracts.JobQueue
	translator  contracts.Translator
	coordinator *services.Coordinator

	stream      string
	group       string
	callTimeout time.Duration
}

func NewTranslationWorker(
	log *slog.Logger,
	queue contracts.JobQueue,
	translator contracts.Translator,
	coordinator *services.Coordinator,
	stream, group string,
	callTimeout time.Duration,
) *TranslationWorker {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &TranslationWorker{
		log:         log,
		queue:       queue,
		translator:  translator,
		coordinator: coordinator,
		stream:      stream,
		group:       group,
		callTimeout: callTimeout,
	}
}

// Run subscribes the worker to its consumer group and blocks until ctx is
// cancelled.
func (w *TranslationWorker) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "worker - run - subscribed to translation stream",
		"stream", w.stream, "group", w.group)
	return w.queue.Subscribe(ctx, w.stream, w.group, w.ProcessJob)
}

// ProcessJob handles one stream entry. The entry is always acked: a failed
// translation is reported to the coordinator, which owns re-dispatching, so
// leaving the entry pending would only produce duplicate attempts.
func (w *TranslationWorker) ProcessJob(ctx context.Context, entryID string, raw []byte) error {
	var job services.TranslationJob
	if err := json.Unmarshal(raw, &job); err != nil {
		w.log.ErrorContext(ctx, "worker - process job - malformed payload",
			"entry_id", entryID, logging.Err(err))
		w.ackAndDelete(ctx, entryID)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	text, err := w.translator.Translate(callCtx, job.Content, job.Source, job.Target)
	cancel()
	if err != nil {
		w.log.WarnContext(ctx, "worker - process job - translate failed",
			logging.Message(job.MessageID.String()),
			logging.Language(job.Target),
			slog.Int("attempt", job.Attempt),
			logging.Err(err))
	}

	w.coordinator.OnWorkerResult(ctx, services.WorkerResult{Job: job, Text: text, Err: err})
	w.ackAndDelete(ctx, entryID)
	return nil
}

func (w *TranslationWorker) ackAndDelete(ctx context.Context, entryID string) {
	if err := w.queue.Ack(ctx, w.stream, w.group, entryID); err != nil {
		w.log.ErrorContext(ctx, "worker - ack - failed", "entry_id", entryID, logging.Err(err))
		return
	}
	if err := w.queue.Delete(ctx, w.stream, entryID); err != nil {
		// already acked, the stream trim will reclaim it eventually
		w.log.WarnContext(ctx, "worker - delete - failed", "entry_id", entryID, logging.Err(err))
	}
}
