// Package converter validates uploaded images and normalizes them for the edit API.
package converter

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/gabriel-vasile/mimetype"
	"github.com/wb-go/wbf/zlog"
)

// largeImageBytes is the size above which the edit API is known to reject uploads.
const largeImageBytes = 4 << 20

var (
	ErrEmptyImage = errors.New("image is empty")
	ErrNotAnImage = errors.New("file is not an image")
)

// Converter is stateless; the zero value is ready to use.
type Converter struct{}

// New creates a new Converter.
func New() *Converter {
	return &Converter{}
}

// Validate checks that path is a non-empty regular file whose content sniffs as an image.
// It returns the detected MIME type.
func (c *Converter) Validate(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return "", ErrEmptyImage
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect mime type: %w", err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: %s", ErrNotAnImage, mt.String())
	}

	if info.Size() > largeImageBytes {
		zlog.Logger.Warn().
			Int64("size", info.Size()).
			Str("path", path).
			Msg("image is larger than 4MB, the edit API might reject it")
	}

	return mt.String(), nil
}

// ToPNG decodes the image at path, applying EXIF orientation, and writes it as
// <name>_converted.png in the same directory. The caller owns the returned file.
func (c *Converter) ToPNG(path string) (string, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrNotAnImage, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dst := filepath.Join(filepath.Dir(path), base+"_converted.png")

	if err := imaging.Save(src, dst); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("encode png: %w", err)
	}

	return dst, nil
}

// ProbeImage renders a small PNG used to exercise the edit API end to end.
func (c *Converter) ProbeImage(width, height int) (io.Reader, error) {
	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()

	dc.SetColor(color.Black)
	dc.DrawCircle(float64(width)/2, float64(height)/2, float64(min(width, height))/4)
	dc.Fill()

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, dc.Image(), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode probe image: %w", err)
	}

	return buf, nil
}
