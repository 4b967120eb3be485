// Package media exports the media files referenced by a deck's notes
// into a target directory as a cancellable background copy job.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	// defaultWorkers bounds concurrent file copies when the caller does
	// not configure a worker count.
	defaultWorkers = 4

	// copyFilePerm is the permission mode for exported files.
	copyFilePerm = 0o644
)

// audioExts are the media extensions treated as audio for the
// audio-only export filter.
var audioExts = map[string]struct{}{
	"3gp": {}, "aac": {}, "avi": {}, "flac": {}, "flv": {}, "m4a": {},
	"mkv": {}, "mov": {}, "mp3": {}, "mp4": {}, "mpeg": {}, "mpg": {},
	"oga": {}, "ogg": {}, "ogv": {}, "ogx": {}, "opus": {}, "spx": {},
	"swf": {}, "wav": {}, "webm": {},
}

var (
	soundRefRe = regexp.MustCompile(`\[sound:([^\[\]]+)\]`)
	imageRefRe = regexp.MustCompile(`<img[^>]+src=["']?([^"'> ]+)["']?`)
)

// ReferencedFiles extracts the media filenames referenced by a note's
// field values: [sound:...] tags and <img src=...> attributes.
func ReferencedFiles(fields []string) []string {
	seen := make(map[string]struct{})

	var files []string

	add := func(name string) {
		if name == "" {
			return
		}

		if _, dup := seen[name]; dup {
			return
		}

		seen[name] = struct{}{}
		files = append(files, name)
	}

	for _, field := range fields {
		for _, m := range soundRefRe.FindAllStringSubmatch(field, -1) {
			add(m[1])
		}

		for _, m := range imageRefRe.FindAllStringSubmatch(field, -1) {
			add(m[1])
		}
	}

	return files
}

// Exporter copies media files from the collection's media directory to
// a target directory.
type Exporter struct {
	sourceDir string
	targetDir string
	workers   int
	audioOnly bool
	logger    *slog.Logger

	// onProgress, when set, is called after each exported file with the
	// running exported count.
	onProgress func(exported int)
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithWorkers sets the number of concurrent copy workers.
func WithWorkers(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithAudioOnly restricts the export to audio file extensions.
func WithAudioOnly() Option {
	return func(e *Exporter) { e.audioOnly = true }
}

// WithProgress registers a progress callback.
func WithProgress(fn func(exported int)) Option {
	return func(e *Exporter) { e.onProgress = fn }
}

// NewExporter creates an exporter copying from sourceDir to targetDir.
func NewExporter(sourceDir, targetDir string, logger *slog.Logger, opts ...Option) *Exporter {
	e := &Exporter{
		sourceDir: sourceDir,
		targetDir: targetDir,
		workers:   defaultWorkers,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Export copies the named files with a bounded worker pool. Cancelling
// the context stops the job; files already copied stay in place.
// Missing source files are skipped with a warning rather than failing
// the whole export. Returns the number of files exported.
func (e *Exporter) Export(ctx context.Context, files []string) (int, error) {
	if err := os.MkdirAll(e.targetDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating target directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var exported atomic.Int64

	for _, name := range files {
		name := name
		if e.audioOnly && !isAudio(name) {
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := e.copyFile(name); err != nil {
				if os.IsNotExist(err) {
					e.logger.Warn("media file missing, skipping", slog.String("file", name))
					return nil
				}

				return fmt.Errorf("exporting %s: %w", name, err)
			}

			n := exported.Add(1)
			if e.onProgress != nil {
				e.onProgress(int(n))
			}

			return nil
		})
	}

	err := g.Wait()

	return int(exported.Load()), err
}

// copyFile copies one media file. The base name is used on both sides
// so a crafted reference cannot escape either directory.
func (e *Exporter) copyFile(name string) error {
	base := filepath.Base(name)

	src, err := os.Open(filepath.Join(e.sourceDir, base))
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(filepath.Join(e.targetDir, base), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, copyFilePerm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}

	return dst.Close()
}

func isAudio(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	_, ok := audioExts[ext]

	return ok
}
