// Package media prepares screenshots for vision models.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultMaxDimension = 4096
	DefaultMaxBytes     = 5 * 1024 * 1024
)

// ErrUnsupportedPath is returned for screenshot paths that are not
// .jpg, .jpeg or .png.
var ErrUnsupportedPath = errors.New("screenshot path must end in .jpg, .jpeg or .png")

var qualityLevels = []int{85, 75, 65, 55, 45}

// Image is an encoded picture ready for a model request.
type Image struct {
	MIMEType string
	Data     []byte
	Width    int
	Height   int
}

func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Limits bound what Load hands to the model.
type Limits struct {
	MaxDimension int
	MaxBytes     int
}

func DefaultLimits() Limits {
	return Limits{MaxDimension: DefaultMaxDimension, MaxBytes: DefaultMaxBytes}
}

// ValidPath checks the file extension a screenshot will be written with.
func ValidPath(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedPath, path)
	}
}

// Load reads the screenshot at path. Images within limits are returned
// byte for byte; larger ones are scaled down and re-encoded as JPEG.
func Load(path string, lim Limits) (Image, error) {
	if err := ValidPath(path); err != nil {
		return Image{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read screenshot: %w", err)
	}
	return Optimize(data, lim)
}

func Optimize(data []byte, lim Limits) (Image, error) {
	if lim.MaxDimension <= 0 {
		lim.MaxDimension = DefaultMaxDimension
	}
	if lim.MaxBytes <= 0 {
		lim.MaxBytes = DefaultMaxBytes
	}
	mime := mimetype.Detect(data).String()
	if mime != "image/jpeg" && mime != "image/png" {
		return Image{}, fmt.Errorf("unsupported image type: %s", mime)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= lim.MaxDimension && b.Dy() <= lim.MaxDimension && len(data) <= lim.MaxBytes {
		return Image{MIMEType: mime, Data: data, Width: b.Dx(), Height: b.Dy()}, nil
	}

	resized := img
	if b.Dx() > lim.MaxDimension || b.Dy() > lim.MaxDimension {
		resized = imaging.Fit(img, lim.MaxDimension, lim.MaxDimension, imaging.Lanczos)
	}
	rb := resized.Bounds()
	var smallest []byte
	for _, q := range qualityLevels {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: q}); err != nil {
			return Image{}, fmt.Errorf("encode jpeg: %w", err)
		}
		smallest = buf.Bytes()
		if len(smallest) <= lim.MaxBytes {
			break
		}
	}
	if len(smallest) > lim.MaxBytes {
		return Image{}, fmt.Errorf("image could not be reduced below %d bytes (got %d)", lim.MaxBytes, len(smallest))
	}
	return Image{MIMEType: "image/jpeg", Data: smallest, Width: rb.Dx(), Height: rb.Dy()}, nil
}
