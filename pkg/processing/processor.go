package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/marusama/semaphore/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/upscale-images/pkg/geometry"
	"github.com/menta2k/upscale-images/pkg/hook"
)

var (
	// ErrNoResize means the requested size resolves to no resize at all.
	ErrNoResize = errors.New("no resize needed")
	// ErrUnsupportedFormat means the output format is not supported.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrUnknownFilter means the resample filter name is not recognized.
	ErrUnknownFilter = errors.New("unknown resample filter")
)

const (
	DefaultWorkers = 4
	DefaultFilter  = "catmullrom"
)

var filters = map[string]draw.Interpolator{
	"nearest":         draw.NearestNeighbor,
	"approx-bilinear": draw.ApproxBiLinear,
	"bilinear":        draw.BiLinear,
	"catmullrom":      draw.CatmullRom,
}

// IsKnownFilter reports whether name is a supported resample filter.
func IsKnownFilter(name string) bool {
	_, ok := filters[strings.ToLower(name)]
	return ok
}

// Processor is the resize pipeline: it asks the dimension hooks for a
// geometry, falls back to its stock downscale-only policy, and resamples.
type Processor struct {
	sem      semaphore.Semaphore
	scaler   draw.Interpolator
	registry *hook.Registry
	fs       afero.Fs
}

type processorConfig struct {
	workers  int
	filter   string
	registry *hook.Registry
	fs       afero.Fs
}

// Option configures a Processor.
type Option func(*processorConfig)

// WithWorkers bounds the number of concurrent resamples.
func WithWorkers(n int) Option {
	return func(c *processorConfig) {
		c.workers = n
	}
}

// WithFilter selects the resample filter by name.
func WithFilter(name string) Option {
	return func(c *processorConfig) {
		c.filter = name
	}
}

// WithRegistry sets the dimension hooks consulted before the stock policy.
func WithRegistry(r *hook.Registry) Option {
	return func(c *processorConfig) {
		c.registry = r
	}
}

// WithFs sets the filesystem images are loaded from and saved to.
func WithFs(fs afero.Fs) Option {
	return func(c *processorConfig) {
		c.fs = fs
	}
}

// NewProcessor creates a new image processor
func NewProcessor(opts ...Option) (*Processor, error) {
	cfg := processorConfig{
		workers: DefaultWorkers,
		filter:  DefaultFilter,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	scaler, ok := filters[strings.ToLower(cfg.filter)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, cfg.filter)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.registry == nil {
		cfg.registry = hook.NewRegistry()
	}
	if cfg.fs == nil {
		cfg.fs = afero.NewOsFs()
	}

	return &Processor{
		sem:      semaphore.New(cfg.workers),
		scaler:   scaler,
		registry: cfg.registry,
		fs:       cfg.fs,
	}, nil
}

// Registry returns the dimension hooks of the processor.
func (p *Processor) Registry() *hook.Registry {
	return p.registry
}

// Dimensions returns the resize geometry for an origW x origH image. The
// hooks get the first say; without a hook value the stock policy applies.
// ok is false when the image should not be resized.
func (p *Processor) Dimensions(origW, origH, destW, destH int, crop bool) (geometry.Geometry, bool) {
	req := hook.Request{OrigW: origW, OrigH: origH, DestW: destW, DestH: destH, Crop: crop}
	if g := p.registry.Apply(req); g != nil {
		return *g, true
	}
	return DefaultDimensions(origW, origH, destW, destH, crop)
}

// DefaultDimensions is the stock dimension policy: it only ever shrinks.
// When the result would be as large as the original or larger, ok is false.
func DefaultDimensions(origW, origH, destW, destH int, crop bool) (geometry.Geometry, bool) {
	if origW <= 0 || origH <= 0 {
		return geometry.Geometry{}, false
	}
	if destW <= 0 && destH <= 0 {
		return geometry.Geometry{}, false
	}

	var g geometry.Geometry
	if crop {
		g = geometry.ResizeDimensions(origW, origH, min(destW, origW), min(destH, origH), true)
	} else {
		g = geometry.ResizeDimensions(origW, origH, destW, destH, false)
	}

	if g.DstW >= origW && g.DstH >= origH {
		return geometry.Geometry{}, false
	}
	return g, true
}

// Resize scales img to destW x destH, cropping when crop is set. It blocks
// while the worker limit is reached.
func (p *Processor) Resize(ctx context.Context, img image.Image, destW, destH int, crop bool) (image.Image, geometry.Geometry, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, geometry.Geometry{}, err
	}
	defer p.sem.Release(1)

	bounds := img.Bounds()
	g, ok := p.Dimensions(bounds.Dx(), bounds.Dy(), destW, destH, crop)
	if !ok || g.Empty() || g.SrcRect().Empty() {
		return nil, g, ErrNoResize
	}

	log.Debug().Msgf("resize %dx%d to %dx%d crop=%t: %s", bounds.Dx(), bounds.Dy(), destW, destH, crop, g)

	dst := image.NewNRGBA(image.Rect(0, 0, g.DstW, g.DstH))
	p.scaler.Scale(dst, g.DstRect(), img, g.SrcRect().Add(bounds.Min), draw.Src, nil)
	return dst, g, nil
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Upscale-Images/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return p.decodeImageFromBytes(imageData)
}

// LoadImage loads an image file from the processor filesystem, with WebP
// support and EXIF orientation applied.
func (p *Processor) LoadImage(path string) (image.Image, error) {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, err
	}
	img, err := p.decodeImageFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	if IsURL(source) {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// IsURL reports whether source looks like an http(s) URL.
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func (p *Processor) decodeImageFromBytes(data []byte) (image.Image, error) {
	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, errors.New("image: unknown or unsupported format")
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	format = strings.ToLower(format)
	if format == "webp" {
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	}

	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	switch f {
	case imaging.JPEG, imaging.PNG, imaging.GIF:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return imaging.Encode(w, img, f, imaging.JPEGQuality(quality))
}

// IsSupportedFormat reports whether Encode can write format.
func IsSupportedFormat(format string) bool {
	switch strings.ToLower(format) {
	case "jpg", "jpeg", "png", "gif", "webp":
		return true
	}
	return false
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) (err error) {
	if !IsSupportedFormat(format) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	f, err := p.fs.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	return Encode(f, img, format, quality, lossless)
}
