package packager

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Packager assembles a job's produced artifacts into one downloadable zip
// bundle and releases the intermediate working files afterwards.
type Packager struct {
	logger *slog.Logger
}

// New creates a packager.
func New(logger *slog.Logger) *Packager {
	return &Packager{logger: logger}
}

// Package writes artifacts, the conversion transcript, and a copy of the
// original upload into a zip at bundlePath. The bundle is written to a
// temporary file and renamed into place so a half-written bundle is never
// visible to the download path.
func (p *Packager) Package(bundlePath string, artifacts []string, transcript []string, originalUpload string) error {
	tmpPath := bundlePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create bundle: %w", err)
	}

	zw := zip.NewWriter(f)
	writeErr := func() error {
		for _, artifact := range artifacts {
			if err := addFile(zw, artifact, filepath.Base(artifact)); err != nil {
				return err
			}
		}
		if originalUpload != "" {
			if err := addFile(zw, originalUpload, "original_"+filepath.Base(originalUpload)); err != nil {
				return err
			}
		}
		if len(transcript) > 0 {
			w, err := zw.Create("conversion.log")
			if err != nil {
				return fmt.Errorf("failed to add transcript: %w", err)
			}
			if _, err := io.WriteString(w, strings.Join(transcript, "\n")+"\n"); err != nil {
				return fmt.Errorf("failed to write transcript: %w", err)
			}
		}
		return nil
	}()

	if err := zw.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("failed to finalize bundle: %w", err)
	}
	if err := f.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("failed to close bundle: %w", err)
	}

	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return writeErr
	}

	if err := os.Rename(tmpPath, bundlePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to publish bundle: %w", err)
	}

	p.logger.Info("Bundle packaged",
		slog.String("bundle", bundlePath),
		slog.Int("artifacts", len(artifacts)),
	)
	return nil
}

// CleanupWorkDir deletes everything in dir except the file at keep.
func (p *Packager) CleanupWorkDir(dir, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.logger.Warn("Failed to read working directory for cleanup",
			slog.String("dir", dir),
			slog.Any("error", err),
		)
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if path == keep {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			p.logger.Warn("Failed to remove intermediate file",
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}
}

// RemoveWorkDir deletes a job's working directory outright. Used when the
// pipeline fails and nothing in the directory will be served.
func (p *Packager) RemoveWorkDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("Failed to remove working directory",
			slog.String("dir", dir),
			slog.Any("error", err),
		)
	}
}

// addFile copies one file into the archive under name. Artifacts that
// vanished between pipeline and packaging are a packaging error, not a
// silent omission.
func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("artifact %s unavailable: %w", name, err)
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s to bundle: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write %s into bundle: %w", name, err)
	}
	return nil
}
