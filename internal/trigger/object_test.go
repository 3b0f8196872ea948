package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
	"github.com/joseph-ayodele/requirements-intake/internal/entity"
	"github.com/joseph-ayodele/requirements-intake/internal/ingest"
	"github.com/joseph-ayodele/requirements-intake/internal/testsupport"
)

type fakeIngester struct {
	got []ingest.Request
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, req ingest.Request) (*ingest.Result, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Result{Document: &entity.Document{ID: uuid.New()}}, nil
}

func TestRequestFromObject(t *testing.T) {
	project := uuid.New()
	tests := []struct {
		name    string
		ev      ObjectEvent
		wantOK  bool
		wantErr bool
	}{
		{"owned object", ObjectEvent{Bucket: "b", Name: "uploads/" + project.String() + "/srs.pdf", ContentType: "application/pdf"}, true, false},
		{"other prefix", ObjectEvent{Bucket: "b", Name: "exports/x.xlsx"}, false, false},
		{"folder placeholder", ObjectEvent{Bucket: "b", Name: "uploads/" + project.String() + "/"}, false, false},
		{"no project segment", ObjectEvent{Bucket: "b", Name: "uploads/srs.pdf"}, false, false},
		{"bad project", ObjectEvent{Bucket: "b", Name: "uploads/not-a-uuid/srs.pdf"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := RequestFromObject(tt.ev, DefaultPrefix)
			if ok != tt.wantOK || (err != nil) != tt.wantErr {
				t.Fatalf("ok=%v err=%v, want ok=%v err=%v", ok, err, tt.wantOK, tt.wantErr)
			}
		})
	}

	req, _, _ := RequestFromObject(ObjectEvent{
		Bucket:      "b",
		Name:        "uploads/" + project.String() + "/nested/spec.txt",
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{MetaUserID: "u1", MetaEmail: "U1@Example.com", MetaLanguage: "de"},
	}, DefaultPrefix)
	if req.ProjectID != project || req.Name != "spec.txt" || req.MIMEType != "" || req.UserEmail != "u1@example.com" || req.LanguageHint != "de" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func event(t *testing.T, name string) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource("//storage.googleapis.com/projects/_/buckets/b")
	e.SetType("google.cloud.storage.object.v1.finalized")
	e.SetTime(time.Now())
	if err := e.SetData(cloudevents.ApplicationJSON, ObjectEvent{Bucket: "b", Name: name}); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	return e
}

func TestHandleRetriesOnlyServerErrors(t *testing.T) {
	name := "uploads/" + uuid.NewString() + "/srs.pdf"
	tests := []struct {
		name      string
		err       error
		wantRetry bool
	}{
		{"success", nil, false},
		{"quota", &common.LimitError{Limit: 2, Used: 2}, false},
		{"validation", common.InvalidArgumentError("pages out of range"), false},
		{"database down", errors.Join(common.ErrDatabase, errors.New("conn refused")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{err: tt.err}
			h := NewObjectHandler(ing, "", testsupport.Logger())
			err := h.Handle(context.Background(), event(t, name))
			if (err != nil) != tt.wantRetry {
				t.Fatalf("Handle err=%v, want retry=%v", err, tt.wantRetry)
			}
			if len(ing.got) != 1 || ing.got[0].Path != name {
				t.Fatalf("ingester calls %+v", ing.got)
			}
		})
	}
}

func TestHandleSkipsForeignObjects(t *testing.T) {
	ing := &fakeIngester{}
	h := NewObjectHandler(ing, "", testsupport.Logger())
	if err := h.Handle(context.Background(), event(t, "exports/report.xlsx")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(ing.got) != 0 {
		t.Fatalf("foreign object was ingested: %+v", ing.got)
	}
}
