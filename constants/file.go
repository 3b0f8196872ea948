package constants

import (
	"path/filepath"
	"strings"
)

// FileFormat is how a stored document is handed to the extraction provider.
type FileFormat string

const (
	PDF   FileFormat = "PDF"
	IMAGE FileFormat = "IMAGE"
	TXT   FileFormat = "TXT"
)

// PageBreak separates pages inside plain-text documents.
const PageBreak = "\f"

var extFormats = map[string]FileFormat{
	"pdf":  PDF,
	"png":  IMAGE,
	"jpg":  IMAGE,
	"jpeg": IMAGE,
	"webp": IMAGE,
	"txt":  TXT,
	"md":   TXT,
}

var formatMIME = map[string]string{
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"txt":  "text/plain",
	"md":   "text/markdown",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// FormatForPath returns the file format for a storage path. Unknown
// extensions are treated as PDF, the common upload type.
func FormatForPath(path string) FileFormat {
	if f, ok := extFormats[NormalizeExt(filepath.Ext(path))]; ok {
		return f
	}
	return PDF
}

// MIMEForPath returns the content type sent to providers for a path.
func MIMEForPath(path string) string {
	if m, ok := formatMIME[NormalizeExt(filepath.Ext(path))]; ok {
		return m
	}
	return "application/pdf"
}
