package storage

import (
	"context"
	"net/http"
	"path"

	"github.com/spf13/afero"

	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

// LocalStore keeps files on an afero filesystem rooted at a directory and
// serves them back over HTTP.
type LocalStore struct {
	fs      afero.Fs
	baseURL string
}

// NewLocalStore stores files under dir on the OS filesystem.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o750); err != nil {
		return nil, apperrors.StorageError("storage.NewLocalStore", err)
	}
	return NewLocalStoreFs(afero.NewBasePathFs(osFs, dir), baseURL), nil
}

// NewLocalStoreFs stores files on fs. Tests pass afero.NewMemMapFs().
func NewLocalStoreFs(fs afero.Fs, baseURL string) *LocalStore {
	return &LocalStore{fs: fs, baseURL: baseURL}
}

// Save writes the object. An existing file with the same key is replaced,
// which only happens when the provider redelivers the same media id.
func (s *LocalStore) Save(ctx context.Context, obj Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := Key(obj)
	// Absolute inside fs so the HTTP file server resolves the same name.
	name := "/" + key
	if err := s.fs.MkdirAll(path.Dir(name), 0o750); err != nil {
		return "", apperrors.StorageError("storage.LocalStore.Save", err)
	}
	if err := afero.WriteFile(s.fs, name, obj.Data, 0o640); err != nil {
		return "", apperrors.StorageError("storage.LocalStore.Save", err)
	}
	return key, nil
}

// URL returns baseURL/ref.
func (s *LocalStore) URL(ref string) string {
	return joinURL(s.baseURL, ref)
}

// Handler serves stored files. Mount it with http.StripPrefix.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(s.fs))
}

var _ Store = (*LocalStore)(nil)
