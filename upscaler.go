// Package upscaler resizes images to a set of named target sizes, upscaling
// images that are smaller than the target instead of leaving them alone.
//
// The resize geometry comes from pkg/geometry through the dimension hook in
// pkg/hook; pkg/processing does the loading, resampling and encoding.
//
// Basic usage:
//
//	u := upscaler.New()
//	outputs, err := u.ProcessFile(ctx, "photo.jpg")
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, o := range outputs {
//		fmt.Println(o.Size, o.Path, o.Geometry)
//	}
package upscaler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/upscale-images/internal/config"
	"github.com/menta2k/upscale-images/internal/utils"
	"github.com/menta2k/upscale-images/pkg/geometry"
	"github.com/menta2k/upscale-images/pkg/hook"
	"github.com/menta2k/upscale-images/pkg/processing"
)

// Version of the upscale-images library
const Version = "1.0.0"

// ErrOutputConflict means two different images resolved to the same output
// file within one run.
var ErrOutputConflict = errors.New("output file already written by another image")

// Upscaler resizes images to every configured size.
type Upscaler struct {
	config    *config.Config
	processor *processing.Processor
	fs        afero.Fs
}

// Output describes one file written by the upscaler.
type Output struct {
	Source   string            `json:"source"`
	Path     string            `json:"path"`
	Size     string            `json:"size"`
	Geometry geometry.Geometry `json:"geometry"`
}

// Option configures an Upscaler.
type Option func(*Upscaler)

// WithFs makes the upscaler read inputs and write outputs through fs.
func WithFs(fs afero.Fs) Option {
	return func(u *Upscaler) {
		u.fs = fs
	}
}

// New creates a new Upscaler with default configuration
func New() *Upscaler {
	u, err := NewWithConfig(config.Default())
	if err != nil {
		panic(err)
	}
	return u
}

// NewWithConfig creates a new Upscaler with custom configuration. Unless
// cfg.Processing.Upscale is false the upscaling dimension hook is installed.
func NewWithConfig(cfg *config.Config, opts ...Option) (*Upscaler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	u := &Upscaler{
		config: cfg,
		fs:     afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(u)
	}

	registry := hook.NewRegistry()
	if cfg.Processing.Upscale {
		hook.Register(registry)
	}

	processor, err := processing.NewProcessor(
		processing.WithRegistry(registry),
		processing.WithWorkers(cfg.Processing.Workers),
		processing.WithFilter(cfg.Processing.Filter),
		processing.WithFs(u.fs),
	)
	if err != nil {
		return nil, err
	}
	u.processor = processor

	return u, nil
}

// Config returns the configuration in use.
func (u *Upscaler) Config() *config.Config {
	return u.config
}

// Processor returns the underlying resize pipeline.
func (u *Upscaler) Processor() *processing.Processor {
	return u.processor
}

// Geometry returns the geometry the pipeline would use for the given sizes.
func (u *Upscaler) Geometry(origW, origH, destW, destH int, crop bool) (geometry.Geometry, bool) {
	return u.processor.Dimensions(origW, origH, destW, destH, crop)
}

// outputSet tracks the files written during one run.
type outputSet struct {
	mu      sync.Mutex
	claimed map[string]Output
}

func newOutputSet() *outputSet {
	return &outputSet{claimed: make(map[string]Output)}
}

// claim reserves o.Path for o. It returns false without an error when the
// same source already claimed the path with the same geometry.
func (s *outputSet) claim(o Output) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.claimed[o.Path]
	if !ok {
		s.claimed[o.Path] = o
		return true, nil
	}
	if prev.Source == o.Source && prev.Geometry == o.Geometry {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s (%s and %s)", ErrOutputConflict, o.Path, prev.Source, o.Source)
}

// Process handles a mix of files, directories and URLs. Files found in a
// directory keep their relative location below the output directory.
func (u *Upscaler) Process(ctx context.Context, inputs []string) ([]Output, error) {
	set := newOutputSet()
	var outputs []Output
	for _, in := range inputs {
		var (
			res []Output
			err error
		)
		if !processing.IsURL(in) && utils.DirExists(u.fs, in) {
			res, err = u.processDir(ctx, in, set)
		} else {
			res, err = u.processFile(ctx, in, u.config.Output.OutputDir, set)
		}
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, res...)
	}
	return outputs, nil
}

// ProcessFile loads a file or URL and writes one output per configured size.
func (u *Upscaler) ProcessFile(ctx context.Context, inputPath string) ([]Output, error) {
	return u.processFile(ctx, inputPath, u.config.Output.OutputDir, newOutputSet())
}

// ProcessImage writes one output per configured size for img. source only
// names the output files. Sizes that need no resize are skipped.
func (u *Upscaler) ProcessImage(ctx context.Context, img image.Image, source string) ([]Output, error) {
	return u.processImage(ctx, img, source, u.config.Output.OutputDir, newOutputSet())
}

// ProcessDir processes every image below dir concurrently, skipping the
// output directory. The first failure cancels the remaining files.
func (u *Upscaler) ProcessDir(ctx context.Context, dir string) ([]Output, error) {
	return u.processDir(ctx, dir, newOutputSet())
}

func (u *Upscaler) processFile(ctx context.Context, inputPath, outDir string, set *outputSet) ([]Output, error) {
	img, err := u.processor.LoadImageSmart(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return u.processImage(ctx, img, inputPath, outDir, set)
}

func (u *Upscaler) processImage(ctx context.Context, img image.Image, source, outDir string, set *outputSet) ([]Output, error) {
	out := u.config.Output
	if err := utils.EnsureDir(u.fs, outDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var outputs []Output
	for _, size := range u.config.Sizes {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}

		resized, g, err := u.processor.Resize(ctx, img, size.Width, size.Height, size.Crop)
		if errors.Is(err, processing.ErrNoResize) {
			log.Debug().Str("source", source).Str("size", size.Name).Msg("no resize needed, skipping")
			continue
		}
		if err != nil {
			return outputs, fmt.Errorf("resize %s to %s: %w", source, size.Name, err)
		}

		o := Output{
			Source:   source,
			Path:     utils.GenerateOutputFilename(source, outDir, g.DstW, g.DstH, out.Format),
			Size:     size.Name,
			Geometry: g,
		}
		fresh, err := set.claim(o)
		if err != nil {
			return outputs, err
		}
		if fresh {
			if err := u.processor.SaveImage(resized, o.Path, out.Format, out.Quality, out.Lossless); err != nil {
				return outputs, fmt.Errorf("failed to save %s: %w", o.Path, err)
			}
			log.Debug().Str("source", source).Str("size", size.Name).Msgf("wrote %s (%s)", o.Path, g)
		}

		outputs = append(outputs, o)
	}

	return outputs, nil
}

func (u *Upscaler) processDir(ctx context.Context, dir string, set *outputSet) ([]Output, error) {
	outDir := u.config.Output.OutputDir
	files, err := utils.ListImageFiles(u.fs, dir, outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	results := make([][]Output, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.config.Processing.Workers)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			res, err := u.processFile(ctx, file, utils.MirrorDir(dir, file, outDir), set)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var outputs []Output
	for _, res := range results {
		outputs = append(outputs, res...)
	}
	log.Debug().Msgf("processed %d files from %s", len(files), dir)
	return outputs, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
