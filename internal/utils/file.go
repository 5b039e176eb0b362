package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"bmp": true, "tif": true, "tiff": true, "webp": true,
}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(fs afero.Fs, dir string) error {
	return fs.MkdirAll(dir, 0o755)
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has an image extension
func IsImageFile(filename string) bool {
	return imageExts[GetFileExtension(filename)]
}

// BaseName returns the file name without directory and extension. URLs
// lose their query string first.
func BaseName(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// GenerateOutputFilename returns <outputDir>/<base>-<W>x<H>.<format>. When
// format is empty the input extension is kept.
func GenerateOutputFilename(inputFile, outputDir string, width, height int, format string) string {
	if format == "" {
		format = GetFileExtension(inputFile)
		if format == "" {
			format = "jpg"
		}
	}

	outputName := fmt.Sprintf("%s-%dx%d.%s", BaseName(inputFile), width, height, strings.ToLower(format))
	return filepath.Join(outputDir, outputName)
}

// MirrorDir returns the directory below outputDir that mirrors the location
// of file relative to root, so that root/a/b.png maps to outputDir/a.
// Files outside root map to outputDir itself.
func MirrorDir(root, file, outputDir string) string {
	rel, err := filepath.Rel(root, filepath.Dir(file))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return outputDir
	}
	return filepath.Join(outputDir, rel)
}

// ListImageFiles recursively lists all image files in a directory, sorted.
// Subdirectories matching one of skip are not descended into.
func ListImageFiles(fs afero.Fs, dir string, skip ...string) ([]string, error) {
	var files []string

	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[absPath(s)] = true
	}
	root := absPath(dir)

	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p := absPath(path); p != root && skipped[p] {
				return filepath.SkipDir
			}
			return nil
		}
		if IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// FileExists checks if a file exists and is not a directory
func FileExists(fs afero.Fs, filename string) bool {
	info, err := fs.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(fs afero.Fs, dirname string) bool {
	ok, err := afero.DirExists(fs, dirname)
	return err == nil && ok
}
