// Package upload validates user-supplied images and stores them in object
// storage.
package upload

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrEmpty           = errors.New("upload: file is empty")
	ErrTooLarge        = errors.New("upload: file is too large")
	ErrUnsupportedType = errors.New("upload: unsupported file type")
	ErrExtension       = errors.New("upload: file extension does not match its content")
)

const DefaultMaxBytes = 2 << 20

// imageTypes maps sniffed content types to the extensions accepted for them.
// The first extension is the canonical one used for storage keys.
var imageTypes = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
	"image/gif":  {".gif"},
	"image/webp": {".webp"},
}

// File is an upload that passed validation.
type File struct {
	Data        []byte
	ContentType string
	Ext         string
}

func (f File) Size() int64 { return int64(len(f.Data)) }

// Validator checks size, sniffed content type and extension. Content type is
// taken from the bytes, never from the client-supplied header.
type Validator struct {
	MaxBytes int64
}

func NewImageValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{MaxBytes: maxBytes}
}

// Check reads at most MaxBytes+1 bytes from r.
func (v *Validator) Check(filename string, r io.Reader) (File, error) {
	data, err := io.ReadAll(io.LimitReader(r, v.MaxBytes+1))
	if err != nil {
		return File{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return File{}, ErrEmpty
	}
	if int64(len(data)) > v.MaxBytes {
		return File{}, ErrTooLarge
	}

	contentType := http.DetectContentType(data)
	exts, ok := imageTypes[contentType]
	if !ok {
		return File{}, ErrUnsupportedType
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(exts, ext) {
		return File{}, ErrExtension
	}

	return File{Data: data, ContentType: contentType, Ext: exts[0]}, nil
}

// ContentTypeForKey infers the content type of a stored key from its
// extension. Unknown extensions are served as octet streams.
func ContentTypeForKey(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	for ct, exts := range imageTypes {
		if slices.Contains(exts, ext) {
			return ct
		}
	}
	return "application/octet-stream"
}
