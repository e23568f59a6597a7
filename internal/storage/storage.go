// Package storage persists customer plan uploads. A Store returns a
// reference that is saved on the lead and a URL the operator can open.
package storage

import (
	"context"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Object is a file to store.
type Object struct {
	LeadID   uuid.UUID
	MediaID  string
	MimeType string
	Filename string
	Data     []byte
}

// Store saves uploaded media.
type Store interface {
	// Save writes the object and returns its reference.
	Save(ctx context.Context, obj Object) (string, error)
	// URL returns an operator-facing link for a reference.
	URL(ref string) string
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key builds the storage key: leads/<lead id>/<media id><ext>. The extension
// comes from the original filename when present, else from the MIME type.
func Key(obj Object) string {
	base := unsafeChars.ReplaceAllString(obj.MediaID, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = uuid.NewString()
	}
	return path.Join("leads", obj.LeadID.String(), base+extension(obj))
}

func extension(obj Object) string {
	if ext := path.Ext(obj.Filename); ext != "" && len(ext) <= 6 {
		return strings.ToLower(unsafeChars.ReplaceAllString(ext, ""))
	}
	switch strings.ToLower(strings.TrimSpace(strings.Split(obj.MimeType, ";")[0])) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	case "":
		return ".bin"
	}
	if exts, err := mime.ExtensionsByType(obj.MimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func joinURL(base, ref string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
}
