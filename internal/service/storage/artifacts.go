package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vehiclestats/internal/config"
	"vehiclestats/internal/logger"
	"vehiclestats/internal/model"
)

// UploadTimeFormat prefixes every stored upload.
const UploadTimeFormat = "20060102_150405"

// ArtifactStore owns the upload and output directories.
type ArtifactStore struct {
	uploadDir string
	outputDir string
	mirror    Mirror
	logger    *logger.Logger
	now       func() time.Time
}

// NewArtifactStore creates both directories if needed. A nil mirror disables
// remote copies.
func NewArtifactStore(config *config.Config, mirror Mirror, logger *logger.Logger) (*ArtifactStore, error) {
	for _, dir := range []string{config.UploadDirectory, config.OutputDirectory} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &ArtifactStore{
		uploadDir: config.UploadDirectory,
		outputDir: config.OutputDirectory,
		mirror:    mirror,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// cleanName strips any directory part so a name can never escape its directory.
func cleanName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return base, nil
}

// SaveUpload copies r into the upload directory under a timestamp-prefixed name
// and returns that name.
func (s *ArtifactStore) SaveUpload(name string, r io.Reader) (string, error) {
	base, err := cleanName(name)
	if err != nil {
		return "", err
	}

	stored := fmt.Sprintf("%s_%s", s.now().Format(UploadTimeFormat), base)
	path := filepath.Join(s.uploadDir, stored)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload %s: %w", stored, err)
	}

	written, err := io.Copy(file, r)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to save upload %s: %w", stored, err)
	}

	s.logger.Info("Saved upload %s (%d bytes)", stored, written)
	return stored, nil
}

// UploadPath resolves a stored upload, failing with model.ErrFileNotFound if it
// does not exist.
func (s *ArtifactStore) UploadPath(name string) (string, error) {
	return existingFile(s.uploadDir, name)
}

// OutputPath resolves an existing annotated artifact.
func (s *ArtifactStore) OutputPath(name string) (string, error) {
	return existingFile(s.outputDir, name)
}

// OutputTarget is where an artifact named name will be written.
func (s *ArtifactStore) OutputTarget(name string) (string, error) {
	base, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.outputDir, base), nil
}

func existingFile(dir, name string) (string, error) {
	base, err := cleanName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrFileNotFound, err)
	}

	path := filepath.Join(dir, base)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", model.ErrFileNotFound, base)
	}
	return path, nil
}

// Publish mirrors an output artifact when a mirror is configured. It returns the
// remote location, or "" when mirroring is disabled.
func (s *ArtifactStore) Publish(ctx context.Context, outputName string) (string, error) {
	if s.mirror == nil {
		return "", nil
	}

	path, err := s.OutputPath(outputName)
	if err != nil {
		return "", err
	}

	location, err := s.mirror.Upload(ctx, filepath.Base(path), path)
	if err != nil {
		return "", fmt.Errorf("failed to mirror %s: %w", outputName, err)
	}
	s.logger.Info("Mirrored %s to %s", outputName, location)
	return location, nil
}

// Clear removes every regular file in the upload and output directories and
// returns how many were removed. It keeps going past individual failures.
func (s *ArtifactStore) Clear(ctx context.Context) (int, error) {
	removed := 0
	var errs []error

	for _, dir := range []string{s.uploadDir, s.outputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("failed to read %s: %w", dir, err))
			continue
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
				continue
			}
			removed++

			if dir == s.outputDir && s.mirror != nil {
				if err := s.mirror.Delete(ctx, entry.Name()); err != nil {
					s.logger.Warning("Failed to delete mirrored %s: %v", entry.Name(), err)
				}
			}
		}
	}

	s.logger.Info("Removed %d files from %s and %s", removed, s.uploadDir, s.outputDir)
	return removed, errors.Join(errs...)
}
