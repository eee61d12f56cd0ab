package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
	"github.com/dispatchlab/mail-dispatch-system/internal/engine"
	"github.com/dispatchlab/mail-dispatch-system/internal/mailer"
	"github.com/dispatchlab/mail-dispatch-system/internal/store"
)

// QueueStore is the slice of the data store the processor needs. All
// transition methods are row-scoped and atomic, so a half-processed batch
// never corrupts entries that already committed.
type QueueStore interface {
	ClaimDue(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]domain.QueueEntry, error)
	LoadSendContext(ctx context.Context, entry domain.QueueEntry) (*domain.SendContext, error)
	MarkSent(ctx context.Context, entry domain.QueueEntry, attempts int) error
	MarkFailed(ctx context.Context, entry domain.QueueEntry, attempts int, reason string) error
	ScheduleRetry(ctx context.Context, entry domain.QueueEntry, attempts int, nextAttempt time.Time, reason string) error
	ReleaseClaim(ctx context.Context, entryID string) error
}

// Aggregator mirrors engine.Aggregator for the slice the processor calls.
type Aggregator interface {
	RefreshCounts(ctx context.Context, dispatchID string) error
	SweepCompletions(ctx context.Context) (int, error)
}

// Processor drains the email queue: each RunOnce claims one bounded batch of
// due entries, attempts delivery sequentially and drives every claimed entry
// to a terminal or rescheduled state before returning.
type Processor struct {
	store       QueueStore
	aggregator  Aggregator
	transmitter mailer.Transmitter
	logger      *slog.Logger
	workerID    string
	now         func() time.Time
}

func NewProcessor(qs QueueStore, agg Aggregator, tx mailer.Transmitter, workerID string, logger *slog.Logger) *Processor {
	return &Processor{
		store:       qs,
		aggregator:  agg,
		transmitter: tx,
		logger:      logger,
		workerID:    workerID,
		now:         time.Now,
	}
}

// RunOnce processes one batch. Per-entry problems never abort the batch; the
// completion sweep always runs, even when every entry errored.
func (p *Processor) RunOnce(ctx context.Context) error {
	entries, err := p.store.ClaimDue(ctx, p.workerID, engine.BatchSize, engine.ClaimLease)
	if err != nil {
		return err
	}

	if len(entries) > 0 {
		p.logger.Info("processing queue batch", "entries", len(entries), "worker_id", p.workerID)
	}

	for _, entry := range entries {
		p.processEntry(ctx, entry)
	}

	if _, err := p.aggregator.SweepCompletions(ctx); err != nil {
		return err
	}
	return nil
}

func (p *Processor) processEntry(ctx context.Context, entry domain.QueueEntry) {
	log := p.logger.With("entry_id", entry.ID, "dispatch_id", entry.DispatchID, "recipient_id", entry.RecipientID)

	// A crash between attempt increment and status flip can leave an entry
	// pending with its budget spent. Finalize it before anything else.
	if engine.Exhausted(entry.AttemptCount, entry.MaxAttempts) {
		reason := "retry attempts exhausted"
		if entry.ErrorMessage != nil && *entry.ErrorMessage != "" {
			reason = *entry.ErrorMessage
		}
		p.failEntry(ctx, log, entry, entry.AttemptCount, reason)
		log.Warn("finalized exhausted entry", "attempts", entry.AttemptCount)
		return
	}

	sc, err := p.store.LoadSendContext(ctx, entry)
	if err != nil {
		if errors.Is(err, store.ErrSMTPConfigGone) {
			// Retrying is guaranteed to fail identically, so this does not
			// consume the retry budget: the entry fails right away.
			p.failEntry(ctx, log, entry, entry.AttemptCount, err.Error())
			log.Warn("failed entry with missing smtp config")
			return
		}
		log.Error("failed to load send context", "error", err)
		p.release(ctx, log, entry)
		return
	}

	sendErr := p.transmitter.Send(ctx, *sc.SMTP, mailer.BuildMessage(*sc))
	attempts := entry.AttemptCount + 1

	if sendErr == nil {
		if err := p.store.MarkSent(ctx, entry, attempts); err != nil {
			// Never guess a terminal state on a persistence error; the claim
			// is released and the entry retried by a later run.
			log.Error("failed to persist sent state", "error", err)
			p.release(ctx, log, entry)
			return
		}
		if err := p.aggregator.RefreshCounts(ctx, entry.DispatchID); err != nil {
			log.Error("failed to refresh dispatch counts", "error", err)
		}
		log.Info("email sent", "to", sc.ToEmail, "attempt", attempts)
		return
	}

	reason := sendErr.Error()
	switch engine.Decide(attempts) {
	case engine.ActionFail:
		p.failEntry(ctx, log, entry, attempts, reason)
		log.Warn("email failed permanently", "to", sc.ToEmail, "attempts", attempts, "error", reason)
	case engine.ActionRetry:
		next := engine.NextAttemptAt(p.now())
		if err := p.store.ScheduleRetry(ctx, entry, attempts, next, reason); err != nil {
			log.Error("failed to schedule retry", "error", err)
			p.release(ctx, log, entry)
			return
		}
		log.Info("retry scheduled", "to", sc.ToEmail, "attempt", attempts, "next_attempt", next)
	}
}

// failEntry finalizes an entry and its recipient as failed and refreshes the
// dispatch counters.
func (p *Processor) failEntry(ctx context.Context, log *slog.Logger, entry domain.QueueEntry, attempts int, reason string) {
	if err := p.store.MarkFailed(ctx, entry, attempts, reason); err != nil {
		log.Error("failed to persist failed state", "error", err)
		p.release(ctx, log, entry)
		return
	}
	if err := p.aggregator.RefreshCounts(ctx, entry.DispatchID); err != nil {
		log.Error("failed to refresh dispatch counts", "error", err)
	}
}

func (p *Processor) release(ctx context.Context, log *slog.Logger, entry domain.QueueEntry) {
	if err := p.store.ReleaseClaim(ctx, entry.ID); err != nil {
		// The lease will expire and make the entry claimable again.
		log.Error("failed to release claim", "error", err)
	}
}
