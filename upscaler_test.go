package upscaler

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/upscale-images/internal/config"
	"github.com/menta2k/upscale-images/internal/utils"
	"github.com/menta2k/upscale-images/pkg/processing"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Create a pattern with a bright subject in the center
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}

	return img
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Format = "png"
	cfg.Output.OutputDir = filepath.Join(t.TempDir(), "out")
	return cfg
}

// writeImage encodes a test image to path in the format of its extension.
func writeImage(t *testing.T, path string, width, height int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	p, err := processing.NewProcessor()
	require.NoError(t, err)
	require.NoError(t, p.SaveImage(createTestImage(width, height), path, utils.GetFileExtension(path), 90, false))
}

func TestNew(t *testing.T) {
	u := New()
	require.NotNil(t, u)
	require.NotNil(t, u.Processor())
	assert.Equal(t, []string{"upscale"}, u.Processor().Registry().Names())
	assert.Equal(t, "1.0.0", GetVersion())
}

func TestNewWithConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.Upscale = false

	u, err := NewWithConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Processor().Registry().Len())
	assert.Same(t, cfg, u.Config())

	cfg.Output.Quality = 0
	_, err = NewWithConfig(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestGeometry(t *testing.T) {
	u := New()

	g, ok := u.Geometry(1000, 500, 200, 200, true)
	require.True(t, ok)
	assert.Equal(t, [8]int{0, 0, 250, 0, 200, 200, 500, 500}, g.Values())

	g, ok = u.Geometry(800, 600, 0, 300, false)
	require.True(t, ok)
	assert.Equal(t, [8]int{0, 0, 0, 0, 400, 300, 800, 600}, g.Values())

	cfg := testConfig(t)
	cfg.Processing.Upscale = false
	stock, err := NewWithConfig(cfg)
	require.NoError(t, err)
	_, ok = stock.Geometry(100, 100, 300, 300, true)
	assert.False(t, ok)
}

func TestProcessImageUpscales(t *testing.T) {
	u, err := NewWithConfig(testConfig(t))
	require.NoError(t, err)

	outputs, err := u.ProcessImage(context.Background(), createTestImage(100, 80), "/photos/small.jpg")
	require.NoError(t, err)
	require.Len(t, outputs, 3)

	want := map[string][8]int{
		"thumbnail": {0, 0, 10, 0, 150, 150, 80, 80},
		"medium":    {0, 0, 0, 0, 300, 240, 100, 80},
		"large":     {0, 0, 0, 0, 1024, 819, 100, 80},
	}
	for _, o := range outputs {
		assert.Equal(t, want[o.Size], o.Geometry.Values(), o.Size)
		assert.Equal(t, "/photos/small.jpg", o.Source)

		img, err := u.Processor().LoadImage(o.Path)
		require.NoError(t, err, o.Path)
		assert.Equal(t, o.Geometry.DstW, img.Bounds().Dx())
		assert.Equal(t, o.Geometry.DstH, img.Bounds().Dy())
	}
	assert.Equal(t, filepath.Join(u.Config().Output.OutputDir, "small-150x150.png"), outputs[0].Path)
}

func TestProcessImageStockPolicySkipsUpscale(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.Upscale = false
	u, err := NewWithConfig(cfg)
	require.NoError(t, err)

	outputs, err := u.ProcessImage(context.Background(), createTestImage(100, 80), "small.png")
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestProcessImageCancelled(t *testing.T) {
	u, err := NewWithConfig(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = u.ProcessImage(ctx, createTestImage(10, 10), "a.png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sizes = []config.SizeConfig{{Name: "square", Width: 150, Height: 150, Crop: true}}
	cfg.Processing.Workers = 2
	u, err := NewWithConfig(cfg)
	require.NoError(t, err)

	in := filepath.Join(t.TempDir(), "in")
	writeImage(t, filepath.Join(in, "a.png"), 64, 48)
	writeImage(t, filepath.Join(in, "b.png"), 400, 300)
	writeImage(t, filepath.Join(in, "nested", "c.png"), 48, 64)
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("skip"), 0o644))

	outputs, err := u.ProcessDir(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, outputs, 3)

	assert.Equal(t, filepath.Join(in, "a.png"), outputs[0].Source)
	assert.Equal(t, [8]int{0, 0, 8, 0, 150, 150, 48, 48}, outputs[0].Geometry.Values())
	for _, o := range outputs {
		assert.Equal(t, 150, o.Geometry.DstW)
		assert.Equal(t, 150, o.Geometry.DstH)
		assert.FileExists(t, o.Path)
	}
	assert.Equal(t, filepath.Join(cfg.Output.OutputDir, "nested", "c-150x150.png"), outputs[2].Path)
}

func TestProcessDirKeepsRelativePaths(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sizes = []config.SizeConfig{{Name: "square", Width: 150, Height: 150, Crop: true}}
	u, err := NewWithConfig(cfg)
	require.NoError(t, err)

	in := filepath.Join(t.TempDir(), "in")
	writeImage(t, filepath.Join(in, "a.png"), 64, 48)
	writeImage(t, filepath.Join(in, "nested", "a.png"), 48, 64)

	outputs, err := u.ProcessDir(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	assert.Equal(t, filepath.Join(cfg.Output.OutputDir, "a-150x150.png"), outputs[0].Path)
	assert.Equal(t, filepath.Join(cfg.Output.OutputDir, "nested", "a-150x150.png"), outputs[1].Path)
	assert.NotEqual(t, outputs[0].Path, outputs[1].Path)
	for _, o := range outputs {
		assert.FileExists(t, o.Path)
	}
}

func TestProcessDirOutputConflict(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sizes = []config.SizeConfig{{Name: "square", Width: 150, Height: 150, Crop: true}}
	u, err := NewWithConfig(cfg)
	require.NoError(t, err)

	in := filepath.Join(t.TempDir(), "in")
	writeImage(t, filepath.Join(in, "a.png"), 64, 48)
	writeImage(t, filepath.Join(in, "a.jpg"), 80, 60)

	_, err = u.ProcessDir(context.Background(), in)
	assert.ErrorIs(t, err, ErrOutputConflict)

	// Separate file inputs share the output directory.
	other := filepath.Join(t.TempDir(), "other", "a.png")
	writeImage(t, other, 64, 48)
	_, err = u.Process(context.Background(), []string{filepath.Join(in, "a.png"), other})
	assert.ErrorIs(t, err, ErrOutputConflict)

	// Repeating a file is not a conflict.
	outputs, err := u.Process(context.Background(), []string{other, other})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, outputs[0].Path, outputs[1].Path)
}

func TestProcessImageSharedOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sizes = []config.SizeConfig{
		{Name: "square", Width: 150, Height: 150, Crop: true},
		{Name: "avatar", Width: 150, Height: 150, Crop: true},
	}
	u, err := NewWithConfig(cfg)
	require.NoError(t, err)

	outputs, err := u.ProcessImage(context.Background(), createTestImage(64, 48), "a.png")
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, outputs[0].Path, outputs[1].Path)
	assert.Equal(t, "avatar", outputs[1].Size)
}

func TestProcessDirSkipsOutputDir(t *testing.T) {
	in := filepath.Join(t.TempDir(), "in")
	cfg := testConfig(t)
	cfg.Sizes = []config.SizeConfig{{Name: "square", Width: 150, Height: 150, Crop: true}}
	cfg.Output.OutputDir = filepath.Join(in, "output")
	u, err := NewWithConfig(cfg)
	require.NoError(t, err)

	writeImage(t, filepath.Join(in, "a.png"), 64, 48)
	writeImage(t, filepath.Join(in, "output", "old-150x150.png"), 150, 150)

	outputs, err := u.Process(context.Background(), []string{in})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, filepath.Join(in, "a.png"), outputs[0].Source)
	assert.Equal(t, filepath.Join(in, "output", "a-150x150.png"), outputs[0].Path)
}

func TestProcessDirMemFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testConfig(t)
	cfg.Sizes = []config.SizeConfig{{Name: "square", Width: 150, Height: 150, Crop: true}}
	cfg.Output.OutputDir = "/out"
	u, err := NewWithConfig(cfg, WithFs(fs))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, processing.Encode(&buf, createTestImage(64, 48), "png", 90, false))
	require.NoError(t, afero.WriteFile(fs, "/in/a.png", buf.Bytes(), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/nested/b.png", buf.Bytes(), 0o644))

	outputs, err := u.Process(context.Background(), []string{"/in"})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, "/out/a-150x150.png", outputs[0].Path)
	assert.Equal(t, "/out/nested/b-150x150.png", outputs[1].Path)

	for _, o := range outputs {
		assert.True(t, utils.FileExists(fs, o.Path), o.Path)
		img, err := u.Processor().LoadImage(o.Path)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 150, 150), img.Bounds())
	}
}

func TestProcessMixedInputs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sizes = []config.SizeConfig{{Name: "wide", Width: 300}}
	u, err := NewWithConfig(cfg)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "in")
	writeImage(t, filepath.Join(dir, "one.png"), 64, 48)
	single := filepath.Join(t.TempDir(), "two.png")
	writeImage(t, single, 400, 300)

	outputs, err := u.Process(context.Background(), []string{dir, single})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, "one-64x48.png", filepath.Base(outputs[0].Path))
	assert.Equal(t, "two-300x225.png", filepath.Base(outputs[1].Path))

	_, err = u.Process(context.Background(), []string{filepath.Join(dir, "missing.png")})
	assert.Error(t, err)
}
