// Package trigger adapts storage notifications into ingestion calls.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/ingest"
)

const DefaultPrefix = "uploads/"

// Object metadata keys set by the uploader.
const (
	MetaUserID   = "user-id"
	MetaEmail    = "user-email"
	MetaLanguage = "language"
	MetaName     = "display-name"
)

// ObjectEvent is the data of a google.cloud.storage.object.v1.finalized event.
type ObjectEvent struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata"`
}

type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

type ObjectHandler struct {
	ingester Ingester
	prefix   string
	logger   *slog.Logger
}

func NewObjectHandler(ing Ingester, prefix string, logger *slog.Logger) *ObjectHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &ObjectHandler{ingester: ing, prefix: prefix, logger: logger}
}

// RequestFromObject maps "<prefix><project-id>/<file>" onto an ingest
// request. ok is false for objects this trigger does not own.
func RequestFromObject(ev ObjectEvent, prefix string) (req ingest.Request, ok bool, err error) {
	if !strings.HasPrefix(ev.Name, prefix) || strings.HasSuffix(ev.Name, "/") {
		return req, false, nil
	}
	rest := strings.TrimPrefix(ev.Name, prefix)
	projectPart, file, found := strings.Cut(rest, "/")
	if !found || file == "" {
		return req, false, nil
	}
	projectID, err := uuid.Parse(projectPart)
	if err != nil {
		return req, true, common.InvalidArgumentErrorf("object %s: project segment %q is not a UUID", ev.Name, projectPart)
	}

	name := ev.Metadata[MetaName]
	if name == "" {
		name = path.Base(file)
	}
	mimeType := ev.ContentType
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	return ingest.Request{
		ProjectID:    projectID,
		Name:         name,
		Bucket:       ev.Bucket,
		Path:         ev.Name,
		MIMEType:     mimeType,
		LanguageHint: ev.Metadata[MetaLanguage],
		UserID:       ev.Metadata[MetaUserID],
		UserEmail:    strings.ToLower(ev.Metadata[MetaEmail]),
	}, true, nil
}

// Handle ingests a finalized object. Client-side failures (bad path, quota,
// page range) are logged and acknowledged since a redelivery cannot fix them;
// anything else is returned so the event is retried.
func (h *ObjectHandler) Handle(ctx context.Context, e cloudevents.Event) error {
	var ev ObjectEvent
	if err := json.Unmarshal(e.Data(), &ev); err != nil {
		h.logger.Error("trigger.object.decode_failed", "event_id", e.ID(), "error", err)
		return nil
	}
	req, ok, err := RequestFromObject(ev, h.prefix)
	if !ok {
		h.logger.Debug("trigger.object.skipped", "bucket", ev.Bucket, "name", ev.Name)
		return nil
	}
	if err == nil {
		var res *ingest.Result
		res, err = h.ingester.Ingest(ctx, req)
		if err == nil {
			h.logger.Info("trigger.object.ingested",
				"event_id", e.ID(),
				"document_id", res.Document.ID,
				"status", res.Document.Status,
				"ticks", len(res.Ticks),
			)
			return nil
		}
	}
	if status := common.HTTPStatus(err); status < http.StatusInternalServerError {
		h.logger.Warn("trigger.object.rejected", "event_id", e.ID(), "name", ev.Name, "status", status, "error", err)
		return nil
	}
	h.logger.Error("trigger.object.failed", "event_id", e.ID(), "name", ev.Name, "error", err)
	return fmt.Errorf("ingest %s: %w", ev.Name, err)
}
