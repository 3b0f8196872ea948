package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
	"github.com/joseph-ayodele/requirements-intake/internal/extract"
)

type batchKind int

const (
	batchSucceeded batchKind = iota
	// batchSkipped pages were failed but the tick may continue.
	batchSkipped
	// batchFailed stops the tick.
	batchFailed
)

type batchOutcome struct {
	kind     batchKind
	inserted int
	message  string
}

type eventMetadata struct {
	Provider   string        `json:"provider,omitempty"`
	Model      string        `json:"model,omitempty"`
	Structured bool          `json:"structured"`
	Usage      extract.Usage `json:"usage"`
	Pages      []int         `json:"pages"`
	Stage      string        `json:"stage,omitempty"`
}

func (p *Processor) runBatch(ctx context.Context, pages []entity.Page) batchOutcome {
	started := p.now().UTC()
	docID := pages[0].DocumentID
	nums := pageNumbers(pages)
	meta := eventMetadata{Pages: nums}

	doc, err := p.documents.Get(ctx, docID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			msg := "document not found"
			p.failPages(ctx, pages, msg)
			p.log.Warn("tick.batch.document_missing", "document_id", docID, "pages", nums)
			p.observer.BatchFinished(constants.EventFailed, len(pages), 0, p.now().Sub(started))
			return batchOutcome{kind: batchSkipped, message: fmt.Sprintf("document %s: %s", docID, msg)}
		}
		meta.Stage = "load_document"
		return p.fail(ctx, nil, pages, started, meta, err)
	}

	url, err := p.blobs.SignedURL(ctx, doc.StorageBucket, doc.StoragePath, p.opts.SignedURLTTL)
	if err != nil {
		meta.Stage = "signed_url"
		out := p.fail(ctx, doc, pages, started, meta, fmt.Errorf("signed url: %w", err))
		out.kind = batchSkipped
		return out
	}

	data, err := p.blobs.Fetch(ctx, url)
	if err != nil {
		meta.Stage = "download"
		return p.fail(ctx, doc, pages, started, meta, fmt.Errorf("download: %w", err))
	}

	lang := ""
	if doc.LanguageHint != nil {
		lang = *doc.LanguageHint
	}
	result, err := p.provider.Extract(ctx, extract.Request{
		DocumentID:   doc.ID,
		PageNumbers:  nums,
		Content:      buildContent(doc.MIMEType, data, nums),
		LanguageHint: lang,
	})
	if err != nil {
		meta.Stage = "extract"
		return p.fail(ctx, doc, pages, started, meta, err)
	}
	meta.Provider, meta.Model, meta.Structured, meta.Usage = result.Provider, result.Model, result.Structured, result.Usage

	rows := p.normalize(doc, pages, result.Items)
	if err := p.candidates.InsertBatch(ctx, rows); err != nil {
		meta.Stage = "insert_candidates"
		return p.fail(ctx, doc, pages, started, meta, err)
	}

	for _, pg := range pages {
		conf, text := aggregate(pg.ID, rows)
		if err := p.pages.MarkProcessed(ctx, pg.ID, conf, text); err != nil {
			meta.Stage = "mark_processed"
			return p.fail(ctx, doc, pages, started, meta, err)
		}
	}

	active, err := p.pages.HasActive(ctx, doc.ID)
	if err != nil {
		meta.Stage = "document_status"
		return p.fail(ctx, doc, pages, started, meta, err)
	}
	status := constants.DocumentCompleted
	if active {
		status = constants.DocumentProcessing
	}
	upd := entity.DocumentUpdate{ClearError: true, BatchesDelta: 1, CandidatesDelta: len(rows)}
	if err := p.documents.UpdateStatus(ctx, doc.ID, status, upd); err != nil {
		meta.Stage = "document_status"
		return p.fail(ctx, doc, pages, started, meta, err)
	}

	ev := entity.ProcessingEvent{
		DocumentID:         doc.ID,
		PagesProcessed:     len(pages),
		CandidatesInserted: len(rows),
		Status:             constants.EventSuccess,
		Metadata:           mustMetadata(meta),
		StartedAt:          started,
		FinishedAt:         p.now().UTC(),
	}
	if err := p.events.Record(ctx, &ev); err != nil {
		meta.Stage = "record_event"
		return p.fail(ctx, doc, pages, started, meta, err)
	}
	p.publish(ctx, ev)
	p.observer.BatchFinished(constants.EventSuccess, len(pages), len(rows), ev.FinishedAt.Sub(started))

	p.log.Info("tick.batch.processed",
		"document_id", doc.ID,
		"pages", nums,
		"candidates", len(rows),
		"document_status", status,
		"elapsed_ms", ev.FinishedAt.Sub(started).Milliseconds(),
	)
	return batchOutcome{kind: batchSucceeded, inserted: len(rows)}
}

// fail marks every page of the batch failed, the document failed and records
// a failed event. Errors while recording the failure are only logged.
func (p *Processor) fail(ctx context.Context, doc *entity.Document, pages []entity.Page, started time.Time, meta eventMetadata, cause error) batchOutcome {
	msg := cause.Error()
	docID := pages[0].DocumentID
	p.failPages(ctx, pages, msg)

	if doc != nil {
		if err := p.documents.UpdateStatus(ctx, doc.ID, constants.DocumentFailed, entity.DocumentUpdate{LastError: &msg}); err != nil {
			p.log.Error("tick.batch.document_fail_update_error", "document_id", doc.ID, "error", err)
		}
	}

	ev := entity.ProcessingEvent{
		DocumentID:     docID,
		PagesProcessed: len(pages),
		Status:         constants.EventFailed,
		Error:          &msg,
		Metadata:       mustMetadata(meta),
		StartedAt:      started,
		FinishedAt:     p.now().UTC(),
	}
	if err := p.events.Record(ctx, &ev); err != nil {
		p.log.Error("tick.batch.event_record_error", "document_id", docID, "error", err)
	} else {
		p.publish(ctx, ev)
	}
	p.observer.BatchFinished(constants.EventFailed, len(pages), 0, ev.FinishedAt.Sub(started))

	p.log.Error("tick.batch.failed",
		"document_id", docID,
		"pages", pageNumbers(pages),
		"stage", meta.Stage,
		"error", cause,
	)
	return batchOutcome{kind: batchFailed, message: fmt.Sprintf("document %s: %s", docID, msg)}
}

func (p *Processor) failPages(ctx context.Context, pages []entity.Page, msg string) {
	for _, pg := range pages {
		if err := p.pages.MarkFailed(ctx, pg.ID, msg); err != nil {
			p.log.Error("tick.batch.page_fail_update_error", "page_id", pg.ID, "error", err)
		}
	}
}

func (p *Processor) publish(ctx context.Context, ev entity.ProcessingEvent) {
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.log.Warn("tick.event.publish_failed", "document_id", ev.DocumentID, "event_id", ev.ID, "error", err)
	}
}

// normalize turns provider items into candidate rows: low confidence gets its
// own status and unrecognized types are stored as null.
func (p *Processor) normalize(doc *entity.Document, pages []entity.Page, items []extract.Item) []entity.Candidate {
	byNumber := make(map[int]uuid.UUID, len(pages))
	for _, pg := range pages {
		byNumber[pg.PageNumber] = pg.ID
	}
	rows := make([]entity.Candidate, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(it.Text)
		if text == "" {
			continue
		}
		c := entity.Candidate{
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			Text:       text,
			Confidence: it.Confidence,
			Status:     constants.CandidateDraft,
		}
		if id, ok := byNumber[it.Page]; ok {
			c.PageID = &id
		}
		if t, ok := constants.CanonicalizeType(it.Type); ok {
			c.Type = &t
		}
		if r := strings.TrimSpace(it.Rationale); r != "" {
			c.Rationale = &r
		}
		if it.Confidence < p.opts.ConfidenceThreshold {
			c.Status = constants.CandidateLowConfidence
		}
		rows = append(rows, c)
	}
	return rows
}

// aggregate returns the mean confidence and the joined text of the rows that
// belong to pageID, or nils when the page produced no candidates.
func aggregate(pageID uuid.UUID, rows []entity.Candidate) (*float64, *string) {
	var (
		sum   float64
		n     int
		texts []string
	)
	for _, c := range rows {
		if c.PageID == nil || *c.PageID != pageID {
			continue
		}
		sum += c.Confidence
		n++
		texts = append(texts, c.Text)
	}
	if n == 0 {
		return nil, nil
	}
	mean := sum / float64(n)
	joined := strings.Join(texts, "\n")
	return &mean, &joined
}

// buildContent picks the representation sent to the provider. Plain text is
// split on form feeds and only the batch pages are sent.
func buildContent(mimeType string, data []byte, nums []int) extract.Content {
	if strings.HasPrefix(mimeType, "text/") {
		split := bytes.Split(data, []byte(constants.PageBreak))
		texts := make([]extract.PageText, 0, len(nums))
		for _, n := range nums {
			var t string
			if n >= 1 && n <= len(split) {
				t = string(split[n-1])
			}
			texts = append(texts, extract.PageText{Page: n, Text: t})
		}
		return extract.Content{Texts: texts}
	}
	return extract.Content{Bytes: data, MIMEType: mimeType}
}

func mustMetadata(meta eventMetadata) json.RawMessage {
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return b
}
