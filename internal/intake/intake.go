// Package intake reads the water photo from disk and checks that it is one of
// the accepted image formats.
package intake

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"

	"github.com/dshills/wateraudit/internal/schema"
)

var (
	// ErrMissingImage is returned when no image path was given or the file is empty.
	ErrMissingImage = errors.New("intake: no image supplied")
	// ErrUnsupportedImage is returned for files that are not JPEG or PNG.
	ErrUnsupportedImage = errors.New("intake: unsupported image format")
)

// MaxImageBytes bounds the photo size sent to the model service.
const MaxImageBytes = 20 << 20

// accepted maps sniffed MIME types to the extensions the upload form allowed.
var accepted = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// LoadImage reads path and returns the image with its detected MIME type.
// The type is sniffed from the file's magic bytes, not its extension.
func LoadImage(path string) (*schema.Image, error) {
	if path == "" {
		return nil, ErrMissingImage
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intake: read %s: %w", path, err)
	}
	return FromBytes(filepath.Base(path), data)
}

// FromBytes validates raw image bytes.
func FromBytes(name string, data []byte) (*schema.Image, error) {
	if len(data) == 0 {
		return nil, ErrMissingImage
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrUnsupportedImage, name, len(data), MaxImageBytes)
	}
	kind, err := filetype.Image(data)
	if err != nil || !accepted[kind.MIME.Value] {
		return nil, fmt.Errorf("%w: %s (accepted: jpg, jpeg, png)", ErrUnsupportedImage, name)
	}
	return &schema.Image{Name: name, MIME: kind.MIME.Value, Data: data}, nil
}
