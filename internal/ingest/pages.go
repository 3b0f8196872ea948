package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

// HashContent returns the hex sha256 of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CountPages counts the pages of a stored document. PDFs are parsed with
// relaxed validation, text documents are split on form feeds and images
// are a single page.
func CountPages(data []byte, mimeType string) (int, error) {
	if len(data) == 0 {
		return 0, common.InvalidArgumentError("document is empty")
	}
	switch {
	case strings.HasPrefix(mimeType, "text/"):
		body := strings.TrimRight(string(data), constants.PageBreak)
		return strings.Count(body, constants.PageBreak) + 1, nil
	case strings.HasPrefix(mimeType, "image/"):
		return 1, nil
	default:
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		n, err := api.PageCount(bytes.NewReader(data), conf)
		if err != nil {
			return 0, common.NewAppError("INVALID_ARGUMENT", "cannot read pdf",
				fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		}
		return n, nil
	}
}
