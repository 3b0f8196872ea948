package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/blob"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
	"github.com/joseph-ayodele/requirements-intake/internal/extract"
	"github.com/joseph-ayodele/requirements-intake/internal/repository"
)

// Options tune one tick. Zero values fall back to the defaults.
type Options struct {
	BatchSize           int           // default 6
	MaxBatchesPerTick   int           // default 2
	ConfidenceThreshold float64       // default 0.6
	SignedURLTTL        time.Duration // default 180s
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 6
	}
	if o.MaxBatchesPerTick <= 0 {
		o.MaxBatchesPerTick = 2
	}
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = 0.6
	}
	if o.SignedURLTTL <= 0 {
		o.SignedURLTTL = 180 * time.Second
	}
	return o
}

// TickResult is what a trigger reports back. The camelCase keys and an
// always-present errors array are the trigger contract cron callers parse.
type TickResult struct {
	Status             constants.TickStatus `json:"status"`
	ProcessedBatches   int                  `json:"processedBatches"`
	CandidatesInserted int                  `json:"candidatesInserted"`
	Errors             []string             `json:"errors"`
}

// EventPublisher receives every recorded processing event.
type EventPublisher interface {
	Publish(ctx context.Context, ev entity.ProcessingEvent) error
}

// Observer receives batch and tick outcomes for metrics.
type Observer interface {
	BatchFinished(status constants.EventStatus, pages, candidates int, elapsed time.Duration)
	TickFinished(status constants.TickStatus, batches int, elapsed time.Duration)
}

type Option func(*Processor)

func WithPublisher(p EventPublisher) Option {
	return func(pr *Processor) {
		if p != nil {
			pr.publisher = p
		}
	}
}

func WithObserver(o Observer) Option {
	return func(pr *Processor) {
		if o != nil {
			pr.observer = o
		}
	}
}

// Processor runs ticks. It keeps no state between ticks; concurrent ticks
// coordinate only through the conditional page claim.
type Processor struct {
	log        *slog.Logger
	documents  repository.DocumentRepository
	pages      repository.PageRepository
	candidates repository.CandidateRepository
	events     repository.EventRepository
	blobs      blob.Store
	provider   extract.Provider
	opts       Options
	publisher  EventPublisher
	observer   Observer
	now        func() time.Time
}

func NewProcessor(logger *slog.Logger, repos *repository.Repositories, blobs blob.Store, provider extract.Provider, opts Options, options ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		log:        logger,
		documents:  repos.Documents,
		pages:      repos.Pages,
		candidates: repos.Candidates,
		events:     repos.Events,
		blobs:      blobs,
		provider:   provider,
		opts:       opts.withDefaults(),
		publisher:  nopPublisher{},
		observer:   nopObserver{},
		now:        time.Now,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Tick performs up to MaxBatchesPerTick batch iterations. The returned error
// is reserved for infrastructure failures outside a claimed batch; batch
// failures are reported in TickResult.Errors.
func (p *Processor) Tick(ctx context.Context) (TickResult, error) {
	start := p.now()
	res := TickResult{Status: constants.TickIdle, Errors: []string{}}
	defer func() {
		p.observer.TickFinished(res.Status, res.ProcessedBatches, p.now().Sub(start))
	}()

	for i := 0; i < p.opts.MaxBatchesPerTick; i++ {
		queued, err := p.pages.GetQueued(ctx, p.opts.BatchSize*3)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			return res, fmt.Errorf("fetch queued pages: %w", err)
		}
		if len(queued) == 0 {
			break
		}

		batch := selectBatch(queued, p.opts.BatchSize)
		claimed, err := p.pages.Claim(ctx, pageIDs(batch))
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			return res, fmt.Errorf("claim pages: %w", err)
		}
		if len(claimed) == 0 {
			p.log.Info("tick.batch.lost_race", "document_id", batch[0].DocumentID, "pages", len(batch))
			break
		}
		res.Status = constants.TickProcessed
		sort.Slice(claimed, func(a, b int) bool { return claimed[a].PageNumber < claimed[b].PageNumber })

		p.log.Info("tick.batch.claimed",
			"iteration", i+1,
			"document_id", claimed[0].DocumentID,
			"pages", pageNumbers(claimed),
		)

		// A claimed batch runs to completion even if the caller goes away.
		out := p.runBatch(context.WithoutCancel(ctx), claimed)
		switch out.kind {
		case batchSucceeded:
			res.ProcessedBatches++
			res.CandidatesInserted += out.inserted
		case batchSkipped:
			res.Errors = append(res.Errors, out.message)
		case batchFailed:
			res.Errors = append(res.Errors, out.message)
			p.log.Warn("tick.stopped", "document_id", claimed[0].DocumentID, "error", out.message)
			return res, nil
		}
	}

	p.log.Info("tick.finished",
		"status", res.Status,
		"batches", res.ProcessedBatches,
		"candidates", res.CandidatesInserted,
		"errors", len(res.Errors),
		"elapsed_ms", p.now().Sub(start).Milliseconds(),
	)
	return res, nil
}

// selectBatch keeps only pages of the first page's document, ordered by
// page number and truncated to size.
func selectBatch(queued []entity.Page, size int) []entity.Page {
	docID := queued[0].DocumentID
	batch := make([]entity.Page, 0, size)
	for _, pg := range queued {
		if pg.DocumentID == docID {
			batch = append(batch, pg)
		}
	}
	sort.Slice(batch, func(a, b int) bool { return batch[a].PageNumber < batch[b].PageNumber })
	if len(batch) > size {
		batch = batch[:size]
	}
	return batch
}

func pageIDs(pages []entity.Page) []uuid.UUID {
	ids := make([]uuid.UUID, len(pages))
	for i, pg := range pages {
		ids[i] = pg.ID
	}
	return ids
}

func pageNumbers(pages []entity.Page) []int {
	nums := make([]int, len(pages))
	for i, pg := range pages {
		nums[i] = pg.PageNumber
	}
	return nums
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, entity.ProcessingEvent) error { return nil }

type nopObserver struct{}

func (nopObserver) BatchFinished(constants.EventStatus, int, int, time.Duration) {}
func (nopObserver) TickFinished(constants.TickStatus, int, time.Duration)        {}
