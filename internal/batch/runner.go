// Package batch enumerates a directory of audio files and drives the
// generation pipeline for each one, isolating per-file failures so a bad
// track never aborts the rest of the run.
package batch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"saberforge/internal/console"
	"saberforge/internal/history"
	"saberforge/internal/naming"
	"saberforge/internal/pipeline"
)

// FileProcessor runs one audio file to a terminal outcome.
type FileProcessor interface {
	Run(ctx context.Context, path, outputDir string) (pipeline.Outcome, error)
}

// Summary totals one batch pass.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
}

// Runner owns one batch over an input directory.
type Runner struct {
	proc     FileProcessor
	namer    NameDeriver
	recorder history.Recorder
	printer  *console.Printer
	allowed  map[string]struct{}
	logger   *log.Logger
	batchID  string
}

// NameDeriver computes the output base name for an audio file. It reads
// the file's tags, falling back to the file stem when they are absent.
type NameDeriver interface {
	DeriveName(path string) string
}

// New builds a runner. recorder may be nil to disable history; printer may
// be nil to silence console output; a nil logger falls back to
// log.Default().
func New(proc FileProcessor, namer NameDeriver, recorder history.Recorder, printer *console.Printer, extensions []string, logger *log.Logger) *Runner {
	if recorder == nil {
		recorder = history.Nop{}
	}
	if logger == nil {
		logger = log.Default()
	}

	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}

	return &Runner{
		proc:     proc,
		namer:    namer,
		recorder: recorder,
		printer:  printer,
		allowed:  allowed,
		logger:   logger,
		batchID:  uuid.NewString(),
	}
}

// BatchID identifies this runner's rows in the history ledger.
func (r *Runner) BatchID() string { return r.batchID }

// Run processes every audio file in inputDir once, in directory-listing
// order. Only an unreadable input directory or a cancelled context aborts
// the pass; per-file failures are logged, recorded, and skipped over.
func (r *Runner) Run(ctx context.Context, inputDir, outputDir string) (Summary, error) {
	var summary Summary

	files, err := r.listAudioFiles(inputDir)
	if err != nil {
		return summary, err
	}
	if len(files) == 0 {
		r.logger.Printf("no audio files found in %s", inputDir)
		return summary, nil
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		path := filepath.Join(inputDir, file)
		name := r.namer.DeriveName(path)

		if outputExists(outputDir, name) {
			if r.printer != nil {
				r.printer.Skip(file)
			}
			summary.Skipped++
			continue
		}

		if r.printer != nil {
			r.printer.Processing(i+1, len(files), file)
		}

		started := time.Now()
		outcome, runErr := r.proc.Run(ctx, path, outputDir)
		r.record(ctx, file, outcome, runErr, started)

		if runErr != nil {
			// An interrupt unwinds the whole batch, not just this file.
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed++
			r.logger.Printf("error processing %s: %v", file, runErr)
			if r.printer != nil {
				r.printer.Failure(file, runErr)
			}
			continue
		}

		summary.Processed++
		if r.printer != nil {
			r.printer.Done(outcome.Name, outcome.ExtractDir)
		}
	}

	return summary, nil
}

func (r *Runner) listAudioFiles(inputDir string) ([]string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if r.isAllowed(entry.Name()) {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

func (r *Runner) isAllowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := r.allowed[ext]
	return ok
}

func (r *Runner) record(ctx context.Context, file string, outcome pipeline.Outcome, runErr error, started time.Time) {
	rec := history.Record{
		BatchID:    r.batchID,
		File:       file,
		Name:       outcome.Name,
		State:      string(outcome.State),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		rec.FailureKind = string(pipeline.KindOf(runErr))
		rec.Error = runErr.Error()
	}
	if err := r.recorder.Record(ctx, rec); err != nil {
		r.logger.Printf("history record for %s failed: %v", file, err)
	}
}

// outputExists reports whether a prior run already produced either the
// archive or the extracted directory for the derived name.
func outputExists(outputDir, name string) bool {
	if _, err := os.Stat(filepath.Join(outputDir, name+".zip")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(outputDir, name)); err == nil {
		return true
	}
	return false
}

// Namer is the production NameDeriver: tags via a TrackReader, sanitized
// through the naming rules.
type Namer struct {
	Reader pipeline.TrackReader
}

// DeriveName implements NameDeriver. Unreadable files fall back to the
// file stem so the skip check stays consistent with the pipeline's own
// fallback behavior.
func (n Namer) DeriveName(path string) string {
	track, err := n.Reader.ReadTrack(path)
	if err != nil {
		return naming.DeriveName(path, "", "")
	}
	return naming.DeriveName(path, track.Title, track.Artist)
}
