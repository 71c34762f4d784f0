package images

import (
	"bytes"
	"image"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	pkgerrors "github.com/pkg/errors"

	// Formats beyond the ones imaging registers.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/soocke/qrdial-go/failure"
)

// DefaultMaxDimension bounds the longest side of a still image handed to the
// decoder.
const DefaultMaxDimension = 2048

const genericMediaType = "application/octet-stream"

// File is a still image submitted for one-shot decoding. MediaType is the
// declared type; it decides whether the file is accepted.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// NewFile builds a File from raw bytes. An empty or generic declared type is
// replaced by the type sniffed from the content.
func NewFile(name, declared string, data []byte) File {
	mt := strings.TrimSpace(declared)
	if mt == "" || mt == genericMediaType {
		mt = mimetype.Detect(data).String()
	}
	return File{Name: name, MediaType: mt, Data: data}
}

// ReadFile reads path and declares its media type from the extension, falling
// back to content sniffing for unknown extensions.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, failure.Newf(failure.FileLoadFailed, pkgerrors.Wrapf(err, "failed to read file %s", path),
			"The image %s could not be loaded.", filepath.Base(path))
	}
	return NewFile(filepath.Base(path), mime.TypeByExtension(strings.ToLower(filepath.Ext(path))), data), nil
}

// IsImage reports whether the declared media type is an image type.
func (f File) IsImage() bool {
	mt, _, err := mime.ParseMediaType(f.MediaType)
	if err != nil {
		mt = f.MediaType
	}
	return strings.HasPrefix(strings.ToLower(mt), "image/")
}

// Decode checks the media type, decodes the pixels honouring EXIF
// orientation and shrinks the result to fit maxDim (0 disables shrinking).
// Non-image files are rejected before any decoding happens.
func Decode(f File, maxDim int) (image.Image, error) {
	if !f.IsImage() {
		return nil, failure.Newf(failure.InvalidFileType, nil,
			"%s is not an image (%s). Please choose an image file.", displayName(f), f.MediaType)
	}
	img, err := imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, failure.Newf(failure.FileLoadFailed, pkgerrors.Wrapf(err, "failed to decode %s", displayName(f)),
			"The image %s could not be loaded.", displayName(f))
	}
	return Fit(img, maxDim), nil
}

// Fit shrinks img so its longest side is at most maxDim. Smaller images and a
// non-positive maxDim return img unchanged.
func Fit(img image.Image, maxDim int) image.Image {
	if img == nil || maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

func displayName(f File) string {
	if f.Name == "" {
		return "file"
	}
	return f.Name
}
