// Package processor validates, persists, and delivers change records. It
// runs its own delivery workers so a slow or unreachable AI backend never
// stalls filesystem-event processing.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Picca1e-12/GenTestAI/internal/aibackend"
	"github.com/Picca1e-12/GenTestAI/internal/logging"
	"github.com/Picca1e-12/GenTestAI/internal/model"
)

// ErrValidation rejects a record before any side effect.
var ErrValidation = errors.New("invalid change record")

// placeholder replaces empty content in delivery payloads so the backend
// never sees an ambiguous empty string.
const placeholder = "empty"

// Store is the persistence surface the processor consumes.
type Store interface {
	SaveChange(ctx context.Context, rec *model.ChangeRecord) (int64, error)
	GetRepository(ctx context.Context, id string) (model.Repository, error)
	ListUnsent(ctx context.Context, limit int) ([]model.ChangeRecord, error)
	MarkSent(ctx context.Context, changeID string) error
	UserID(ctx context.Context, email string) (int64, error)
}

// Backend delivers payloads to the analysis endpoint.
type Backend interface {
	Send(ctx context.Context, p aibackend.Payload) error
	Health(ctx context.Context) string
}

// Notifier receives every persisted record for live fanout.
type Notifier interface {
	Publish(n model.Notification)
}

type Options struct {
	Workers   int // delivery workers; default 2
	QueueSize int // pending delivery buffer; default 256
}

type Processor struct {
	store    Store
	backend  Backend
	notifier Notifier
	log      logging.Logger

	queue   chan model.ChangeRecord
	workers int

	mu       sync.Mutex
	inflight map[string]struct{}

	g      *errgroup.Group
	cancel context.CancelFunc
}

func New(store Store, backend Backend, notifier Notifier, log logging.Logger, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Processor{
		store:    store,
		backend:  backend,
		notifier: notifier,
		log:      log,
		queue:    make(chan model.ChangeRecord, opts.QueueSize),
		workers:  opts.Workers,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the delivery workers. They run until Stop.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.g, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		p.g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case rec := <-p.queue:
					p.deliverOne(ctx, rec)
				}
			}
		})
	}
}

// Stop cancels the workers and waits for them to finish their current
// attempt.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.g != nil {
		_ = p.g.Wait()
	}
}

// Validate checks the mandatory fields and the change kind. Failing records
// are rejected with no side effects.
func (p *Processor) Validate(rec *model.ChangeRecord) error {
	switch {
	case rec == nil:
		return fmt.Errorf("%w: nil record", ErrValidation)
	case rec.RepositoryID == "":
		return fmt.Errorf("%w: missing repository id", ErrValidation)
	case rec.FilePath == "":
		return fmt.Errorf("%w: missing file path", ErrValidation)
	case rec.RelativePath == "":
		return fmt.Errorf("%w: missing relative path", ErrValidation)
	case !rec.Kind.Valid():
		return fmt.Errorf("%w: unrecognized change kind %q", ErrValidation, rec.Kind)
	case rec.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrValidation)
	case rec.Author == "":
		return fmt.Errorf("%w: missing author", ErrValidation)
	case rec.AuthorEmail == "":
		return fmt.Errorf("%w: missing author email", ErrValidation)
	}
	return nil
}

// Process validates and persists rec, publishes the live notification, and
// hands the record to the delivery workers. It never blocks on the AI
// backend: when the delivery queue is full the record stays Pending for the
// retry sweep. Persistence failures drop the record; the originating
// filesystem event is not retried.
func (p *Processor) Process(ctx context.Context, rec *model.ChangeRecord) error {
	if err := p.Validate(rec); err != nil {
		return err
	}

	if _, err := p.store.SaveChange(ctx, rec); err != nil {
		return fmt.Errorf("persist change %s: %w", rec.RelativePath, err)
	}
	rec.DeliveryState = model.DeliveryPending

	if p.notifier != nil {
		p.notifier.Publish(p.notification(ctx, rec))
	}

	select {
	case p.queue <- *rec:
	default:
		p.log.Warn("delivery queue full, change left pending",
			"change", rec.ID, "path", rec.RelativePath)
	}
	return nil
}

// ProcessUnsent retries up to limit still-pending records, oldest first. It
// returns how many were attempted and how many the backend accepted.
func (p *Processor) ProcessUnsent(ctx context.Context, limit int) (attempted, delivered int, err error) {
	recs, err := p.store.ListUnsent(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list unsent changes: %w", err)
	}
	for _, rec := range recs {
		attempted++
		if p.deliverOne(ctx, rec) {
			delivered++
		}
	}
	return attempted, delivered, nil
}

// Health classifies the AI backend's reachability.
func (p *Processor) Health(ctx context.Context) string {
	return p.backend.Health(ctx)
}

// deliverOne sends a single record, guarding against concurrent deliveries
// of the same change id. It reports whether the backend accepted it.
func (p *Processor) deliverOne(ctx context.Context, rec model.ChangeRecord) bool {
	if !p.acquire(rec.ID) {
		return false
	}
	defer p.release(rec.ID)

	if rec.DeliveryState == model.DeliverySent {
		return true
	}

	payload, err := p.buildPayload(ctx, rec)
	if err != nil {
		p.log.Error("build delivery payload", "change", rec.ID, "error", err)
		return false
	}

	if err := p.backend.Send(ctx, payload); err != nil {
		if errors.Is(err, aibackend.ErrTerminalReject) {
			p.log.Error("ai backend rejected change, abandoning",
				"change", rec.ID, "path", rec.RelativePath, "error", err)
		} else {
			p.log.Warn("delivery exhausted retries, change stays pending",
				"change", rec.ID, "path", rec.RelativePath, "error", err)
		}
		return false
	}

	if err := p.store.MarkSent(ctx, rec.ID); err != nil {
		p.log.Error("mark change sent", "change", rec.ID, "error", err)
		return false
	}
	p.log.Info("change delivered", "change", rec.ID, "path", rec.RelativePath)
	return true
}

func (p *Processor) buildPayload(ctx context.Context, rec model.ChangeRecord) (aibackend.Payload, error) {
	userID, err := p.store.UserID(ctx, rec.AuthorEmail)
	if err != nil {
		return aibackend.Payload{}, err
	}
	return aibackend.Payload{
		UserID:     userID,
		FilePath:   rec.RelativePath,
		ChangeType: string(rec.Kind),
		PreviousV:  orPlaceholder(rec.PreviousContent),
		CurrentV:   orPlaceholder(rec.CurrentContent),
	}, nil
}

func orPlaceholder(content string) string {
	if content == "" {
		return placeholder
	}
	return content
}

func (p *Processor) notification(ctx context.Context, rec *model.ChangeRecord) model.Notification {
	repoName := rec.RepositoryID
	if repo, err := p.store.GetRepository(ctx, rec.RepositoryID); err == nil {
		repoName = repo.Name
	}
	return model.Notification{
		ID:            rec.ID,
		Repository:    repoName,
		RelativePath:  rec.RelativePath,
		Kind:          rec.Kind,
		Timestamp:     rec.Timestamp,
		Author:        rec.Author,
		Extension:     rec.Extension,
		LinesAdded:    rec.LinesAdded,
		LinesRemoved:  rec.LinesRemoved,
		FormattedDiff: rec.FormattedDiff,
	}
}

func (p *Processor) acquire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Processor) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, id)
}
