package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/requirements-intake/internal/dedup"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
	"github.com/joseph-ayodele/requirements-intake/internal/repository"
)

const (
	sheetCandidates = "Candidates"
	sheetPages      = "Pages"
)

// Service produces XLSX workbooks of a document's candidates for offline review.
type Service struct {
	documents  repository.DocumentRepository
	pages      repository.PageRepository
	candidates repository.CandidateRepository
	dedupOpts  dedup.Options
	logger     *slog.Logger
}

func NewService(repos *repository.Repositories, dedupOpts dedup.Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		documents:  repos.Documents,
		pages:      repos.Pages,
		candidates: repos.Candidates,
		dedupOpts:  dedupOpts,
		logger:     logger,
	}
}

// CandidatesXLSX returns the workbook bytes and a suggested file name. The
// Candidates sheet marks each duplicate with the row of its representative.
func (s *Service) CandidatesXLSX(ctx context.Context, documentID uuid.UUID) ([]byte, string, error) {
	start := time.Now()

	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, "", err
	}
	pages, err := s.pages.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, "", fmt.Errorf("query pages: %w", err)
	}
	cands, err := s.candidates.ListByDocument(ctx, documentID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("query candidates: %w", err)
	}

	pageNumber := make(map[uuid.UUID]int, len(pages))
	for _, p := range pages {
		pageNumber[p.ID] = p.PageNumber
	}
	rowOf := make(map[uuid.UUID]int, len(cands))
	items := make([]dedup.Item, len(cands))
	for i, c := range cands {
		rowOf[c.ID] = i + 2
		items[i] = dedup.Item{ID: c.ID, Text: c.Text}
	}
	duplicateOf := map[uuid.UUID]int{}
	for _, g := range dedup.GroupDuplicates(items, s.dedupOpts) {
		for _, id := range g.DuplicateIDs {
			duplicateOf[id] = rowOf[g.RepresentativeID]
		}
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheetCandidates); err != nil {
		return nil, "", err
	}
	if _, err := f.NewSheet(sheetPages); err != nil {
		return nil, "", err
	}

	writeRow(f, sheetCandidates, 1, "Page", "Text", "Type", "Confidence", "Status", "Rationale", "Duplicate Of Row")
	for i, c := range cands {
		writeRow(f, sheetCandidates, i+2,
			pageCell(c, pageNumber),
			c.Text,
			typeCell(c),
			c.Confidence,
			string(c.Status),
			deref(c.Rationale),
			optionalRow(duplicateOf[c.ID]),
		)
	}
	_ = f.SetColWidth(sheetCandidates, "A", "A", 8)
	_ = f.SetColWidth(sheetCandidates, "B", "B", 80)
	_ = f.SetColWidth(sheetCandidates, "C", "C", 16)
	_ = f.SetColWidth(sheetCandidates, "D", "E", 14)
	_ = f.SetColWidth(sheetCandidates, "F", "F", 48)
	_ = f.SetColWidth(sheetCandidates, "G", "G", 16)
	_ = f.SetPanes(sheetCandidates, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	writeRow(f, sheetPages, 1, "Page", "Status", "Mean Confidence", "Error")
	for i, p := range pages {
		var conf any = ""
		if p.OCRConfidence != nil {
			conf = *p.OCRConfidence
		}
		writeRow(f, sheetPages, i+2, p.PageNumber, string(p.Status), conf, truncate(deref(p.ErrorMessage), 240))
	}
	_ = f.SetColWidth(sheetPages, "C", "C", 16)
	_ = f.SetColWidth(sheetPages, "D", "D", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"document_id", documentID,
		"rows", len(cands),
		"duplicates", len(duplicateOf),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), fileName(doc), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func pageCell(c entity.Candidate, pageNumber map[uuid.UUID]int) any {
	if c.PageID == nil {
		return ""
	}
	if n, ok := pageNumber[*c.PageID]; ok {
		return n
	}
	return ""
}

func typeCell(c entity.Candidate) string {
	if c.Type == nil {
		return ""
	}
	return string(*c.Type)
}

func optionalRow(n int) any {
	if n == 0 {
		return ""
	}
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func fileName(doc *entity.Document) string {
	return fmt.Sprintf("candidates-%s.xlsx", doc.ID.String()[:8])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
