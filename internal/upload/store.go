// Package upload keeps admin-uploaded images on local disk and turns stored
// image references into public URLs.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MaxImageSize is the largest accepted image upload.
const MaxImageSize = 8 << 20

var (
	ErrExtension = errors.New("file type not allowed")
	ErrTooLarge  = errors.New("file too large")
)

var (
	remoteRe      = regexp.MustCompile(`^https?://`)
	allowedImages = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true}
)

// IsRemote reports whether ref is an absolute http(s) URL rather than a
// file name inside the upload directory.
func IsRemote(ref string) bool {
	return remoteRe.MatchString(ref)
}

type Store struct {
	dir     string
	baseURL string
}

func NewStore(dir, baseURL string) *Store {
	return &Store{dir: dir, baseURL: baseURL}
}

func (s *Store) Dir() string { return s.dir }

// URL resolves a stored reference. Remote URLs pass through, local names
// are prefixed with the public base URL, empty references stay empty.
func (s *Store) URL(ref string) string {
	if ref == "" || IsRemote(ref) {
		return ref
	}
	return s.baseURL + ref
}

// URLPtr is URL for nullable columns.
func (s *Store) URLPtr(ref *string) *string {
	if ref == nil || *ref == "" {
		return nil
	}
	u := s.URL(*ref)
	return &u
}

// SaveImage validates and stores an uploaded image, returning its new file
// name. suffix ends up in the name to keep slots apart, e.g. "ann0".
func (s *Store) SaveImage(fh *multipart.FileHeader, suffix string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
	if !allowedImages[ext] {
		return "", fmt.Errorf("%w: %q", ErrExtension, ext)
	}
	if fh.Size > MaxImageSize {
		return "", ErrTooLarge
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("%s_%s.%s", strings.ReplaceAll(uuid.NewString(), "-", ""), suffix, ext)
	dst, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	// Copy one byte past the limit so a lying Size header is still caught.
	n, err := io.Copy(dst, io.LimitReader(src, MaxImageSize+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > MaxImageSize {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(filepath.Join(s.dir, name))
		return "", fmt.Errorf("write upload: %w", err)
	}

	logrus.WithFields(logrus.Fields{"file": name, "bytes": n}).Info("Image uploaded")
	return name, nil
}

// Remove deletes a locally stored file. Remote references and missing files
// are ignored.
func (s *Store) Remove(ref string) {
	if ref == "" || IsRemote(ref) {
		return
	}
	path := filepath.Join(s.dir, filepath.Base(ref))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).WithField("file", ref).Warn("Failed to remove uploaded file")
	}
}
