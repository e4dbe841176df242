package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/avif"
	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"
)

// Image is a decoded image together with where it came from.
type Image struct {
	Source string // path, URL or upload filename
	Format string // decoder name: jpeg, png, gif, webp, avif
	Img    image.Image
}

// LoaderConfig holds configuration for the image loader.
type LoaderConfig struct {
	MaxSide      int           // longest side sent to the model; 0 keeps the original size
	FetchTimeout time.Duration // per URL download
}

// Loader acquires images from local paths and http(s) URLs.
type Loader struct {
	client  *resty.Client
	maxSide int
}

// NewLoader creates a new image loader.
func NewLoader(cfg *LoaderConfig) *Loader {
	client := resty.New()
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	return &Loader{
		client:  client,
		maxSide: cfg.MaxSide,
	}
}

// IsURL reports whether ref should be downloaded rather than opened.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Load acquires the image referenced by ref, downloading it when ref is a
// URL and reading it from disk otherwise. Failures are *AcquireError.
func (l *Loader) Load(ctx context.Context, ref string) (*Image, error) {
	if IsURL(ref) {
		return l.fetch(ctx, ref)
	}
	return Open(ref)
}

func (l *Loader) fetch(ctx context.Context, url string) (*Image, error) {
	resp, err := l.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, &AcquireError{Kind: KindDownload, Source: url, Err: err}
	}
	if resp.IsError() {
		return nil, &AcquireError{
			Kind:   KindDownload,
			Source: url,
			Err:    fmt.Errorf("HTTP %d for url: %s", resp.StatusCode(), url),
		}
	}
	return Decode(url, resp.Body())
}

// Open reads and decodes an image file.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &AcquireError{Kind: KindNotFound, Source: path, Err: err}
		}
		return nil, &AcquireError{Kind: KindDecode, Source: path, Err: err}
	}
	return Decode(path, data)
}

// Decode decodes raw image bytes; source is only used for error reporting.
func Decode(source string, data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, &AcquireError{Kind: KindDecode, Source: source, Err: errors.New("empty image data")}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &AcquireError{Kind: KindDecode, Source: source, Err: err}
	}
	return &Image{Source: source, Format: format, Img: img}, nil
}

// DataURL bounds the image to the loader's max side and encodes it as a
// base64 PNG data URL for the model runtime.
func (l *Loader) DataURL(img *Image) (string, error) {
	src := img.Img
	if l.maxSide > 0 {
		b := src.Bounds()
		if b.Dx() > l.maxSide || b.Dy() > l.maxSide {
			src = imaging.Fit(src, l.maxSide, l.maxSide, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return "", fmt.Errorf("failed to encode image %s: %w", img.Source, err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
