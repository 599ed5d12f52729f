package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hazardwatch/internal/pipeline"
)

// DirectorySource replays still images from a directory in file name order
type DirectorySource struct {
	files []string
	next  int
	seq   uint64
	fps   float64
}

var _ pipeline.Source = (*DirectorySource)(nil)

// NewDirectorySource lists the JPEG and PNG files in dir
func NewDirectorySource(dir string, fps float64) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return &DirectorySource{files: files, fps: fps}, nil
}

// Read decodes the next file. Files that fail to load are reported as
// errors so the caller can skip them.
func (d *DirectorySource) Read(ctx context.Context) (*pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.next >= len(d.files) {
		return nil, io.EOF
	}
	path := d.files[d.next]
	d.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	d.seq++
	return decodeFrame(d.seq, data, time.Now())
}

func (d *DirectorySource) FPS() float64 { return d.fps }
func (d *DirectorySource) Close() error { return nil }

// Len returns the number of frames in the directory
func (d *DirectorySource) Len() int { return len(d.files) }
