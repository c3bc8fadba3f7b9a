package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/banshee-data/blockview/internal/fsutil"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/pipeline"
	"github.com/banshee-data/blockview/internal/security"
)

// downloader fetches export artefacts. *remote.Client implements it.
type downloader interface {
	Download(ctx context.Context, ref string) ([]byte, error)
}

// downloadRecorder notes where an export was saved. *db.DB implements it.
type downloadRecorder interface {
	RecordDownload(ref, localPath string) error
}

// runner drives one image through every stage and saves the exports.
type runner struct {
	session *pipeline.Session
	remote  downloader
	history downloadRecorder
	fs      fsutil.FileSystem
	dir     string
	formats []model.ExportFormat

	reconstruct model.ReconstructOptions
	voxelize    model.VoxelizeParams
}

// run returns the paths of the saved exports. On error the paths saved so
// far are still returned.
func (r *runner) run(ctx context.Context, image []byte, name string) ([]string, error) {
	opts := r.reconstruct
	opts.Filename = filepath.Base(name)

	res, err := r.session.StartReconstruction(ctx, image, opts)
	if err != nil {
		return nil, userError(err)
	}
	log.Printf("session %s: model ready", res.SessionID)

	grid, err := r.session.Voxelize(ctx, r.voxelize)
	if err != nil {
		return nil, userError(err)
	}
	log.Printf("session %s: %d voxels", res.SessionID, len(grid))

	blocks, err := r.session.MapBlocks(ctx)
	if err != nil {
		return nil, userError(err)
	}
	log.Printf("session %s: %d blocks, %d block types", res.SessionID, len(blocks), len(blocks.Palette()))

	var saved []string
	for _, f := range r.formats {
		ref, err := r.session.ExportAs(ctx, f)
		if err != nil {
			return saved, userError(err)
		}
		path, err := r.save(ctx, res.SessionID, f, ref)
		if err != nil {
			return saved, err
		}
		saved = append(saved, path)
	}
	return saved, nil
}

func (r *runner) save(ctx context.Context, sessionID string, f model.ExportFormat, ref string) (string, error) {
	data, err := r.remote.Download(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("download %s export: %w", f, err)
	}
	path, err := security.DownloadPath(r.dir, sessionID, "model."+string(f))
	if err != nil {
		return "", err
	}
	if err := r.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	if err := r.fs.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if r.history != nil {
		if err := r.history.RecordDownload(ref, path); err != nil {
			log.Printf("failed to record download of %s: %v", ref, err)
		}
	}
	return path, nil
}

// userError leads with the stage's user-facing message.
func userError(err error) error {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return fmt.Errorf("%s: %s (%w)", se.Stage, se.Message(), err)
	}
	return err
}
