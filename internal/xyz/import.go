package xyz

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/mbfit/internal/ir"
)

// Adder is the part of the configuration store an import needs.
type Adder interface {
	Add(ctx context.Context, g ir.Geometry, tag string) (string, error)
	FindByHash(ctx context.Context, hash, tag string) (string, bool, error)
}

// ImportOptions controls Import.
type ImportOptions struct {
	// Fragments lists the atom count of each fragment, in order.
	Fragments []int
	Tag       string

	// SkipDuplicates skips frames whose geometry already exists under the
	// same tag, making a re-run of the same import a no-op.
	SkipDuplicates bool

	Logger *slog.Logger
}

// ImportReport summarises an import.
type ImportReport struct {
	Frames  int      `json:"frames"`
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	IDs     []string `json:"ids,omitempty"`
}

// Import reads every frame of r, splits it into fragments and adds it to the
// store. It stops at the first malformed frame; frames before it stay added.
func Import(ctx context.Context, store Adder, r io.Reader, opts ImportOptions) (ImportReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Fragments) == 0 {
		return ImportReport{}, fmt.Errorf("import: fragment sizes required")
	}

	var report ImportReport
	for frame, err := range Frames(r) {
		if err != nil {
			return report, fmt.Errorf("import frame %d: %w", report.Frames+1, err)
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Frames++

		g, err := Split(frame.Atoms, opts.Fragments)
		if err != nil {
			return report, fmt.Errorf("import frame %d: %w", report.Frames, err)
		}

		if opts.SkipDuplicates {
			id, found, err := store.FindByHash(ctx, ir.GeometryHash(g), opts.Tag)
			if err != nil {
				return report, fmt.Errorf("import frame %d: %w", report.Frames, err)
			}
			if found {
				report.Skipped++
				logger.Debug("skipping duplicate frame", "frame", report.Frames, "configuration_id", id)
				continue
			}
		}

		id, err := store.Add(ctx, g, opts.Tag)
		if err != nil {
			return report, fmt.Errorf("import frame %d: %w", report.Frames, err)
		}
		report.Added++
		report.IDs = append(report.IDs, id)
		logger.Debug("imported frame", "frame", report.Frames, "configuration_id", id)
	}

	logger.Info("import complete",
		"tag", opts.Tag,
		"frames", report.Frames,
		"added", report.Added,
		"skipped", report.Skipped,
	)
	return report, nil
}
