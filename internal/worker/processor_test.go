package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
	"github.com/dispatchlab/mail-dispatch-system/internal/engine"
	"github.com/dispatchlab/mail-dispatch-system/internal/mailer"
	"github.com/dispatchlab/mail-dispatch-system/internal/store"
)

// fakeQueueStore mimics the postgres queue semantics in memory: claim moves
// pending due entries to in_progress, transitions are row-scoped.
type fakeQueueStore struct {
	entries    map[string]*domain.QueueEntry
	order      []string
	recipients map[string]string // recipient id -> status
	contexts   map[string]*domain.SendContext
	ctxErrs    map[string]error
	now        time.Time

	failMarkSent      bool
	failScheduleRetry bool
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{
		entries:    map[string]*domain.QueueEntry{},
		recipients: map[string]string{},
		contexts:   map[string]*domain.SendContext{},
		ctxErrs:    map[string]error{},
		now:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeQueueStore) addEntry(id, dispatchID, email string, attempts int) *domain.QueueEntry {
	e := &domain.QueueEntry{
		ID:           id,
		DispatchID:   dispatchID,
		RecipientID:  "r-" + id,
		Status:       domain.EntryPending,
		AttemptCount: attempts,
		MaxAttempts:  engine.MaxAttempts,
		CreatedAt:    f.now.Add(time.Duration(len(f.order)) * time.Second),
	}
	f.entries[id] = e
	f.order = append(f.order, id)
	f.recipients[e.RecipientID] = domain.RecipientPending
	f.contexts[id] = &domain.SendContext{
		Subject:   "Hello",
		Body:      "<p>Hi</p>",
		FromEmail: "news@example.com",
		ToEmail:   email,
		ToName:    "Test Recipient",
		SMTP: &domain.SMTPConfig{
			ID:   "smtp-1",
			Host: "smtp.example.com",
			Port: 587,
		},
	}
	return e
}

func (f *fakeQueueStore) ClaimDue(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]domain.QueueEntry, error) {
	var claimed []domain.QueueEntry
	for _, id := range f.order {
		if len(claimed) >= limit {
			break
		}
		e := f.entries[id]
		if e.Status != domain.EntryPending {
			continue
		}
		if e.NextAttempt != nil && e.NextAttempt.After(f.now) {
			continue
		}
		e.Status = domain.EntryInProgress
		e.ClaimedBy = &workerID
		claimedAt := f.now
		e.ClaimedAt = &claimedAt
		claimed = append(claimed, *e)
	}
	return claimed, nil
}

func (f *fakeQueueStore) LoadSendContext(ctx context.Context, entry domain.QueueEntry) (*domain.SendContext, error) {
	if err, ok := f.ctxErrs[entry.ID]; ok {
		return f.contexts[entry.ID], err
	}
	return f.contexts[entry.ID], nil
}

func (f *fakeQueueStore) MarkSent(ctx context.Context, entry domain.QueueEntry, attempts int) error {
	if f.failMarkSent {
		return errors.New("simulated write failure")
	}
	e := f.entries[entry.ID]
	e.Status = domain.EntrySent
	e.AttemptCount = attempts
	e.ClaimedAt, e.ClaimedBy = nil, nil
	f.recipients[entry.RecipientID] = domain.RecipientSent
	return nil
}

func (f *fakeQueueStore) MarkFailed(ctx context.Context, entry domain.QueueEntry, attempts int, reason string) error {
	e := f.entries[entry.ID]
	e.Status = domain.EntryFailed
	e.AttemptCount = attempts
	e.ErrorMessage = &reason
	e.ClaimedAt, e.ClaimedBy = nil, nil
	f.recipients[entry.RecipientID] = domain.RecipientFailed
	return nil
}

func (f *fakeQueueStore) ScheduleRetry(ctx context.Context, entry domain.QueueEntry, attempts int, nextAttempt time.Time, reason string) error {
	if f.failScheduleRetry {
		return errors.New("simulated write failure")
	}
	e := f.entries[entry.ID]
	e.Status = domain.EntryPending
	e.AttemptCount = attempts
	e.NextAttempt = &nextAttempt
	e.ErrorMessage = &reason
	e.ClaimedAt, e.ClaimedBy = nil, nil
	return nil
}

func (f *fakeQueueStore) ReleaseClaim(ctx context.Context, entryID string) error {
	e := f.entries[entryID]
	if e.Status == domain.EntryInProgress {
		e.Status = domain.EntryPending
		e.ClaimedAt, e.ClaimedBy = nil, nil
	}
	return nil
}

// fakeAggregator recomputes dispatch counters from the fake store's recipient
// map, the same derive-by-recount contract as the real one.
type fakeAggregator struct {
	qs          *fakeQueueStore
	sentCount   map[string]int
	failedCount map[string]int
	completed   map[string]bool
	sweeps      int
}

func newFakeAggregator(qs *fakeQueueStore) *fakeAggregator {
	return &fakeAggregator{
		qs:          qs,
		sentCount:   map[string]int{},
		failedCount: map[string]int{},
		completed:   map[string]bool{},
	}
}

func (a *fakeAggregator) RefreshCounts(ctx context.Context, dispatchID string) error {
	sent, failed := 0, 0
	for _, id := range a.qs.order {
		e := a.qs.entries[id]
		if e.DispatchID != dispatchID {
			continue
		}
		switch a.qs.recipients[e.RecipientID] {
		case domain.RecipientSent:
			sent++
		case domain.RecipientFailed:
			failed++
		}
	}
	a.sentCount[dispatchID] = sent
	a.failedCount[dispatchID] = failed
	return nil
}

func (a *fakeAggregator) SweepCompletions(ctx context.Context) (int, error) {
	a.sweeps++
	completed := 0
	byDispatch := map[string]bool{}
	for _, id := range a.qs.order {
		e := a.qs.entries[id]
		if _, ok := byDispatch[e.DispatchID]; !ok {
			byDispatch[e.DispatchID] = true
		}
		if e.Status == domain.EntryPending || e.Status == domain.EntryInProgress {
			byDispatch[e.DispatchID] = false
		}
	}
	for d, drained := range byDispatch {
		if drained && !a.completed[d] {
			a.completed[d] = true
			completed++
		}
	}
	return completed, nil
}

// fakeTransmitter replays scripted outcomes per recipient address.
type fakeTransmitter struct {
	outcomes map[string][]error // per recipient email, consumed in order
	calls    []string
}

func (t *fakeTransmitter) Send(ctx context.Context, cfg domain.SMTPConfig, msg mailer.Message) error {
	t.calls = append(t.calls, msg.ToEmail)
	queue := t.outcomes[msg.ToEmail]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	t.outcomes[msg.ToEmail] = queue[1:]
	return err
}

func setupProcessor(t *testing.T) (*fakeQueueStore, *fakeAggregator, *fakeTransmitter, *Processor) {
	t.Helper()

	qs := newFakeQueueStore()
	agg := newFakeAggregator(qs)
	tx := &fakeTransmitter{outcomes: map[string][]error{}}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p := NewProcessor(qs, agg, tx, "worker-test", logger)
	p.now = func() time.Time { return qs.now }
	return qs, agg, tx, p
}

func TestRunOnce_SingleRecipientSucceeds(t *testing.T) {
	qs, agg, tx, p := setupProcessor(t)
	qs.addEntry("e1", "d1", "one@example.com", 0)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	e := qs.entries["e1"]
	if e.Status != domain.EntrySent {
		t.Errorf("entry status = %q, want %q", e.Status, domain.EntrySent)
	}
	if e.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", e.AttemptCount)
	}
	if qs.recipients[e.RecipientID] != domain.RecipientSent {
		t.Errorf("recipient status = %q, want sent", qs.recipients[e.RecipientID])
	}
	if agg.sentCount["d1"] != 1 {
		t.Errorf("sent_count = %d, want 1", agg.sentCount["d1"])
	}
	if !agg.completed["d1"] {
		t.Error("dispatch should be completed once its queue drained")
	}
	if len(tx.calls) != 1 {
		t.Errorf("transmitter calls = %d, want 1", len(tx.calls))
	}
}

func TestRunOnce_TerminalStateIsIdempotent(t *testing.T) {
	qs, _, tx, p := setupProcessor(t)
	qs.addEntry("e1", "d1", "one@example.com", 0)

	for i := 0; i < 4; i++ {
		if err := p.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce #%d: %v", i+1, err)
		}
		qs.now = qs.now.Add(10 * time.Minute)
	}

	if len(tx.calls) != 1 {
		t.Errorf("terminal entry was re-processed: %d transmitter calls", len(tx.calls))
	}
	if got := qs.entries["e1"].AttemptCount; got != 1 {
		t.Errorf("attempt_count = %d, want 1", got)
	}
}

func TestRunOnce_FailsPermanentlyAfterMaxAttempts(t *testing.T) {
	qs, agg, tx, p := setupProcessor(t)
	qs.addEntry("e1", "d1", "bounce@example.com", 0)
	tx.outcomes["bounce@example.com"] = []error{
		errors.New("451 relay refused"),
		errors.New("451 relay refused"),
		errors.New("451 relay refused"),
	}

	// Three runs, advancing past the retry window each time.
	for i := 0; i < 3; i++ {
		if err := p.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce #%d: %v", i+1, err)
		}
		qs.now = qs.now.Add(engine.RetryDelay + time.Second)
	}

	e := qs.entries["e1"]
	if e.Status != domain.EntryFailed {
		t.Fatalf("entry status = %q, want failed", e.Status)
	}
	if e.AttemptCount != engine.MaxAttempts {
		t.Errorf("attempt_count = %d, want %d", e.AttemptCount, engine.MaxAttempts)
	}
	if e.ErrorMessage == nil || *e.ErrorMessage == "" {
		t.Error("error_message should record the last failure reason")
	}
	if qs.recipients[e.RecipientID] != domain.RecipientFailed {
		t.Errorf("recipient status = %q, want failed", qs.recipients[e.RecipientID])
	}
	if agg.failedCount["d1"] != 1 {
		t.Errorf("failed_count = %d, want 1", agg.failedCount["d1"])
	}
	if !agg.completed["d1"] {
		t.Error("dispatch with only failed recipients still completes")
	}
	if len(tx.calls) != 3 {
		t.Errorf("transmitter calls = %d, want exactly 3", len(tx.calls))
	}
}

func TestRunOnce_RetryThenSucceed(t *testing.T) {
	qs, _, tx, p := setupProcessor(t)
	qs.addEntry("e1", "d1", "flaky@example.com", 0)
	tx.outcomes["flaky@example.com"] = []error{errors.New("timeout dialing relay")}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	e := qs.entries["e1"]
	if e.Status != domain.EntryPending {
		t.Fatalf("entry status after transient failure = %q, want pending", e.Status)
	}
	if e.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", e.AttemptCount)
	}
	wantNext := qs.now.Add(engine.RetryDelay)
	if e.NextAttempt == nil || !e.NextAttempt.Equal(wantNext) {
		t.Errorf("next_attempt = %v, want %v", e.NextAttempt, wantNext)
	}
	if qs.recipients[e.RecipientID] != domain.RecipientPending {
		t.Errorf("recipient must stay pending while retries remain, got %q", qs.recipients[e.RecipientID])
	}

	// Not due yet: a run before the window elapses must not touch it.
	qs.now = qs.now.Add(time.Minute)
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(tx.calls) != 1 {
		t.Fatalf("entry re-selected before next_attempt: %d calls", len(tx.calls))
	}

	// Past the window the retry succeeds.
	qs.now = qs.now.Add(engine.RetryDelay)
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("third run: %v", err)
	}

	if e.Status != domain.EntrySent {
		t.Errorf("entry status = %q, want sent", e.Status)
	}
	if e.AttemptCount != 2 {
		t.Errorf("attempt_count = %d, want 2", e.AttemptCount)
	}
}

func TestRunOnce_RespectsBatchSize(t *testing.T) {
	qs, _, tx, p := setupProcessor(t)
	for i := 0; i < 15; i++ {
		qs.addEntry(fmt.Sprintf("e%02d", i), "d1", fmt.Sprintf("user%02d@example.com", i), 0)
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(tx.calls) != engine.BatchSize {
		t.Errorf("transmitter calls = %d, want %d", len(tx.calls), engine.BatchSize)
	}

	untouched := 0
	for _, id := range qs.order {
		e := qs.entries[id]
		if e.Status == domain.EntryPending && e.AttemptCount == 0 && e.NextAttempt == nil {
			untouched++
		}
	}
	if untouched != 5 {
		t.Errorf("untouched entries = %d, want 5", untouched)
	}

	// Oldest first: the first ten created are the ten advanced.
	for i := 0; i < engine.BatchSize; i++ {
		want := fmt.Sprintf("user%02d@example.com", i)
		if tx.calls[i] != want {
			t.Errorf("call %d went to %s, want %s", i, tx.calls[i], want)
		}
	}
}

func TestRunOnce_FinalizesExhaustedPendingEntry(t *testing.T) {
	qs, agg, tx, p := setupProcessor(t)
	e := qs.addEntry("e1", "d1", "stuck@example.com", engine.MaxAttempts)
	reason := "previous failure"
	e.ErrorMessage = &reason

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if e.Status != domain.EntryFailed {
		t.Errorf("entry status = %q, want failed", e.Status)
	}
	if e.AttemptCount != engine.MaxAttempts {
		t.Errorf("attempt_count = %d, must not exceed max", e.AttemptCount)
	}
	if len(tx.calls) != 0 {
		t.Errorf("no delivery attempt expected for an exhausted entry, got %d", len(tx.calls))
	}
	if agg.failedCount["d1"] != 1 {
		t.Errorf("failed_count = %d, want 1", agg.failedCount["d1"])
	}
}

func TestRunOnce_MissingSMTPConfigFailsImmediately(t *testing.T) {
	qs, _, tx, p := setupProcessor(t)
	e := qs.addEntry("e1", "d1", "orphan@example.com", 0)
	qs.ctxErrs["e1"] = store.ErrSMTPConfigGone

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if e.Status != domain.EntryFailed {
		t.Errorf("entry status = %q, want failed", e.Status)
	}
	if len(tx.calls) != 0 {
		t.Errorf("transmitter must not be called without a config, got %d calls", len(tx.calls))
	}
	if qs.recipients[e.RecipientID] != domain.RecipientFailed {
		t.Errorf("recipient status = %q, want failed", qs.recipients[e.RecipientID])
	}
}

func TestRunOnce_PersistenceFailureLeavesEntryPending(t *testing.T) {
	qs, _, tx, p := setupProcessor(t)
	e := qs.addEntry("e1", "d1", "one@example.com", 0)
	qs.failMarkSent = true

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if e.Status != domain.EntryPending {
		t.Errorf("entry status = %q, want pending (never guess terminal state)", e.Status)
	}
	if e.AttemptCount != 0 {
		t.Errorf("attempt_count = %d, infrastructure trouble must not consume the budget", e.AttemptCount)
	}
	if qs.recipients[e.RecipientID] != domain.RecipientPending {
		t.Errorf("recipient status = %q, want pending", qs.recipients[e.RecipientID])
	}
	if len(tx.calls) != 1 {
		t.Errorf("transmitter calls = %d, want 1", len(tx.calls))
	}
}

func TestRunOnce_EntryErrorsDoNotAbortBatchOrSweep(t *testing.T) {
	qs, agg, tx, p := setupProcessor(t)
	qs.addEntry("e1", "d1", "bad@example.com", 0)
	qs.addEntry("e2", "d1", "good@example.com", 0)
	qs.ctxErrs["e1"] = errors.New("connection reset by peer")

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if got := qs.entries["e2"].Status; got != domain.EntrySent {
		t.Errorf("second entry status = %q, want sent despite first entry's error", got)
	}
	if got := qs.entries["e1"].Status; got != domain.EntryPending {
		t.Errorf("first entry status = %q, want pending (claim released)", got)
	}
	if agg.sweeps != 1 {
		t.Errorf("completion sweep ran %d times, want 1", agg.sweeps)
	}
	if len(tx.calls) != 1 || tx.calls[0] != "good@example.com" {
		t.Errorf("unexpected transmitter calls: %v", tx.calls)
	}
}

func TestRunOnce_CountsStayConsistentMidDispatch(t *testing.T) {
	qs, agg, tx, p := setupProcessor(t)
	qs.addEntry("e1", "d1", "a@example.com", 0)
	qs.addEntry("e2", "d1", "b@example.com", 0)
	qs.addEntry("e3", "d1", "c@example.com", 0)
	tx.outcomes["b@example.com"] = []error{
		errors.New("mailbox unavailable"),
		errors.New("mailbox unavailable"),
		errors.New("mailbox unavailable"),
	}

	for i := 0; i < 3; i++ {
		if err := p.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce #%d: %v", i+1, err)
		}
		qs.now = qs.now.Add(engine.RetryDelay + time.Second)
	}

	if agg.sentCount["d1"] != 2 {
		t.Errorf("sent_count = %d, want 2", agg.sentCount["d1"])
	}
	if agg.failedCount["d1"] != 1 {
		t.Errorf("failed_count = %d, want 1", agg.failedCount["d1"])
	}

	// sent + failed equals the number of non-pending recipients.
	nonPending := 0
	for _, status := range qs.recipients {
		if status != domain.RecipientPending {
			nonPending++
		}
	}
	if agg.sentCount["d1"]+agg.failedCount["d1"] != nonPending {
		t.Errorf("sent+failed = %d, want %d non-pending recipients",
			agg.sentCount["d1"]+agg.failedCount["d1"], nonPending)
	}
	if !agg.completed["d1"] {
		t.Error("dispatch should complete once no entry is pending")
	}
}
