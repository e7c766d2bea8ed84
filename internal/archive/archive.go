// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具
//
// Package archive packs a frame directory into a zip file and removes the
// directory once the archive is complete.

package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aDarkMaker/MP42PNG/internal/events"
	"github.com/aDarkMaker/MP42PNG/internal/logger"

	"github.com/klauspost/compress/flate"
)

const defaultBufferSize = 32 * 1024

var (
	ErrSourceMissing = errors.New("source directory does not exist")
	ErrNotDirectory  = errors.New("source is not a directory")
	ErrInvalidLevel  = errors.New("invalid compression level")
)

// Config for the exporter
type Config struct {
	// BufferSize is the size of the copy buffer shared by all entries
	BufferSize int
	// Level is the deflate level, from flate.HuffmanOnly to
	// flate.BestCompression. nil means flate.DefaultCompression.
	Level  *int
	Logger logger.Logger
}

// Exporter writes directory archives
type Exporter struct {
	bufferSize int
	level      int
	logger     logger.Logger
}

// Result describes a finished export
type Result struct {
	Destination string        `json:"destination"`
	Entries     int           `json:"entries"`
	Files       int           `json:"files"`
	Bytes       int64         `json:"bytes"`
	Duration    time.Duration `json:"duration"`
}

// New creates an Exporter
func New(config Config) (*Exporter, error) {
	e := &Exporter{
		bufferSize: config.BufferSize,
		level:      flate.DefaultCompression,
		logger:     config.Logger,
	}
	if config.Level != nil {
		if err := ValidateLevel(*config.Level); err != nil {
			return nil, err
		}
		e.level = *config.Level
	}
	if e.bufferSize <= 0 {
		e.bufferSize = defaultBufferSize
	}
	if e.logger == nil {
		e.logger = logger.Nop()
	}
	return e, nil
}

// MustNew is like New but panics on an invalid config
func MustNew(config Config) *Exporter {
	e, err := New(config)
	if err != nil {
		panic(err)
	}
	return e
}

// ValidateLevel reports whether level is accepted by the deflate compressor
func ValidateLevel(level int) error {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	return nil
}

type entry struct {
	path string
	name string
	dir  bool
	info fs.FileInfo
}

// Export writes every directory and file below sourceDir into a new zip at
// dest, publishing export-progress after each entry. On success sourceDir is
// removed. On failure sourceDir is left in place and so is the partial
// archive, without a central directory so it does not read as a zip.
func (e *Exporter) Export(ctx context.Context, sourceDir, dest string, sink events.Sink) (Result, error) {
	start := time.Now()
	result := Result{Destination: dest}

	if sink == nil {
		sink = events.Null()
	}

	info, err := os.Stat(sourceDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return result, fmt.Errorf("%w: %s", ErrSourceMissing, sourceDir)
		}
		return result, fmt.Errorf("read source directory: %w", err)
	}
	if !info.IsDir() {
		return result, fmt.Errorf("%w: %s", ErrNotDirectory, sourceDir)
	}

	entries, err := e.plan(sourceDir)
	if err != nil {
		return result, fmt.Errorf("scan source directory: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return result, fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(f)
	level := e.level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	buf := make([]byte, e.bufferSize)
	total := len(entries)

	for i, en := range entries {
		if err := ctx.Err(); err != nil {
			abandon(zw, f)
			return result, fmt.Errorf("export canceled: %w", err)
		}

		n, err := add(zw, en, buf)
		if err != nil {
			abandon(zw, f)
			return result, fmt.Errorf("write %s: %w", en.name, err)
		}

		result.Entries++
		if !en.dir {
			result.Files++
			result.Bytes += n
		}
		sink.Publish(events.ExportProgress, (i+1)*100/total)
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return result, fmt.Errorf("finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return result, fmt.Errorf("finalize archive: %w", err)
	}

	if err := os.RemoveAll(sourceDir); err != nil {
		e.logger.Warn("remove %s after export: %v", sourceDir, err)
	}

	result.Duration = time.Since(start)
	e.logger.Info("exported %d entries (%d bytes) from %s to %s in %s", result.Entries, result.Bytes, sourceDir, dest, result.Duration)

	return result, nil
}

// abandon closes an unfinished archive without writing the central directory
func abandon(zw *zip.Writer, f *os.File) {
	zw.Flush()
	f.Close()
}

// plan walks sourceDir in lexical pre-order. The root itself is not an
// entry. Symlinks are followed to regular files, anything else is skipped.
func (e *Exporter) plan(sourceDir string) ([]entry, error) {
	var entries []entry

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			entries = append(entries, entry{path: path, name: name + "/", dir: true, info: info})
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			e.logger.Debug("skipping %s: not a regular file", path)
			return nil
		}
		entries = append(entries, entry{path: path, name: name, info: info})
		return nil
	})

	return entries, err
}

func add(zw *zip.Writer, en entry, buf []byte) (int64, error) {
	header, err := zip.FileInfoHeader(en.info)
	if err != nil {
		return 0, err
	}
	header.Name = en.name

	if en.dir {
		header.Method = zip.Store
		_, err := zw.CreateHeader(header)
		return 0, err
	}

	header.Method = zip.Deflate
	w, err := zw.CreateHeader(header)
	if err != nil {
		return 0, err
	}

	src, err := os.Open(en.path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	// hide WriterTo so the shared buffer is used
	return io.CopyBuffer(w, struct{ io.Reader }{src}, buf)
}

// DestinationPath appends ".zip" unless target already ends with it
func DestinationPath(target string) string {
	if strings.EqualFold(filepath.Ext(target), ".zip") {
		return target
	}
	return target + ".zip"
}
