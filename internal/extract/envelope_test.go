package extract

import (
	"errors"
	"testing"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantItems int
		check     func(t *testing.T, items []Item)
	}{
		{
			name:      "plain object",
			raw:       `{"items":[{"page":2,"text":"The system shall log every login.","type":"security","confidence":0.9}]}`,
			wantItems: 1,
			check: func(t *testing.T, items []Item) {
				if items[0].Page != 2 || items[0].Type != "security" || items[0].Confidence != 0.9 {
					t.Fatalf("unexpected item %+v", items[0])
				}
			},
		},
		{
			name: "fenced with prose",
			raw: "Here are the requirements:\n```json\n" +
				`{"items":[{"page":1,"text":"Users can reset passwords.","confidence":"0.7"}]}` +
				"\n```\nLet me know if you need more.",
			wantItems: 1,
			check: func(t *testing.T, items []Item) {
				if items[0].Type != "functional" {
					t.Fatalf("expected default type, got %q", items[0].Type)
				}
				if items[0].Confidence != 0.7 {
					t.Fatalf("expected coerced confidence, got %v", items[0].Confidence)
				}
			},
		},
		{
			name:      "bare array with synonyms",
			raw:       `[{"page_number":"3","requirement":"Reports export to CSV.","type":"NFR","confidence":1.7}]`,
			wantItems: 1,
			check: func(t *testing.T, items []Item) {
				it := items[0]
				if it.Page != 3 || it.Text != "Reports export to CSV." || it.Type != "non_functional" || it.Confidence != 1 {
					t.Fatalf("unexpected item %+v", it)
				}
			},
		},
		{
			name:      "unknown type kept lowercased",
			raw:       `{"items":[{"page":1,"text":"Comply with the fire code.","type":"Legal","confidence":0.5}]}`,
			wantItems: 1,
			check: func(t *testing.T, items []Item) {
				if items[0].Type != "legal" {
					t.Fatalf("expected raw label, got %q", items[0].Type)
				}
			},
		},
		{
			name:      "missing page uses default and empty text dropped",
			raw:       `{"requirements":[{"text":"Audit trail retained 7 years."},{"text":"   "}]}`,
			wantItems: 1,
			check: func(t *testing.T, items []Item) {
				if items[0].Page != 5 {
					t.Fatalf("expected default page 5, got %d", items[0].Page)
				}
			},
		},
		{
			name:      "empty items",
			raw:       `{"items": []}`,
			wantItems: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := DecodeEnvelope(tt.raw, 5, nil)
			if err != nil {
				t.Fatalf("DecodeEnvelope: %v", err)
			}
			if len(items) != tt.wantItems {
				t.Fatalf("expected %d items, got %d", tt.wantItems, len(items))
			}
			if tt.check != nil {
				tt.check(t, items)
			}
		})
	}
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"I could not find any requirements.",
		"```\nnot json at all\n```",
		`{"items": "none"}`,
		`"just a string"`,
	} {
		if _, err := DecodeEnvelope(raw, 1, nil); !errors.Is(err, common.ErrMalformedResponse) {
			t.Errorf("raw %q: expected ErrMalformedResponse, got %v", raw, err)
		}
	}
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```{\"a\":1}```":         `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for in, want := range tests {
		if got := StripFences(in); got != want {
			t.Errorf("StripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentValidate(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		wantErr bool
	}{
		{"bytes", Content{Bytes: []byte("x"), MIMEType: "application/pdf"}, false},
		{"images", Content{Images: []PageImage{{Page: 1, MIMEType: "image/png", Data: []byte("x")}}}, false},
		{"texts", Content{Texts: []PageText{{Page: 1, Text: "x"}}}, false},
		{"empty", Content{}, true},
		{"two representations", Content{Bytes: []byte("x"), MIMEType: "text/plain", Texts: []PageText{{Page: 1}}}, true},
		{"bytes without mime", Content{Bytes: []byte("x")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.content.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, common.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
