package batch

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"saberforge/internal/history"
	"saberforge/internal/pipeline"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type stubProcessor struct {
	fail  map[string]error
	calls []string
}

func (p *stubProcessor) Run(_ context.Context, path, outputDir string) (pipeline.Outcome, error) {
	file := filepath.Base(path)
	p.calls = append(p.calls, file)

	name := strings.TrimSuffix(file, filepath.Ext(file))
	if err, ok := p.fail[file]; ok {
		return pipeline.Outcome{State: pipeline.StateFailed, Name: name}, err
	}

	extractDir := filepath.Join(outputDir, name)
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.Outcome{State: pipeline.StateComplete, Name: name, ExtractDir: extractDir}, nil
}

type stemNamer struct{}

func (stemNamer) DeriveName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type memoryRecorder struct {
	records []history.Record
}

func (r *memoryRecorder) Record(_ context.Context, rec history.Record) error {
	r.records = append(r.records, rec)
	return nil
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("audio"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func newTestRunner(proc FileProcessor, recorder history.Recorder) *Runner {
	return New(proc, stemNamer{}, recorder, nil, []string{".mp3", ".flac"}, testLogger())
}

func TestRunProcessesAllAudioFiles(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	writeFiles(t, input, "b.mp3", "a.mp3", "notes.txt", "c.flac")

	proc := &stubProcessor{}
	runner := newTestRunner(proc, nil)

	summary, err := runner.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Processed != 3 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	want := []string{"a.mp3", "b.mp3", "c.flac"}
	if len(proc.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, proc.calls)
	}
	for i, file := range want {
		if proc.calls[i] != file {
			t.Fatalf("call %d = %s, want %s (directory order)", i, proc.calls[i], file)
		}
	}
}

func TestRunSkipsExistingOutputs(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	writeFiles(t, input, "Song A.mp3", "Song B.mp3")

	// Song A was already generated on a previous run.
	if err := os.MkdirAll(filepath.Join(output, "Song A"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	proc := &stubProcessor{}
	runner := newTestRunner(proc, nil)

	summary, err := runner.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Skipped != 1 || summary.Processed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(proc.calls) != 1 || proc.calls[0] != "Song B.mp3" {
		t.Fatalf("expected only Song B to be processed, got %v", proc.calls)
	}
}

func TestRunSkipsWhenArchiveExists(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	writeFiles(t, input, "Song A.mp3")
	writeFiles(t, output, "Song A.zip")

	proc := &stubProcessor{}
	runner := newTestRunner(proc, nil)

	summary, err := runner.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 1 || len(proc.calls) != 0 {
		t.Fatalf("expected skip on leftover archive, summary %+v calls %v", summary, proc.calls)
	}
}

func TestRunIsolatesPerFileFailures(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	writeFiles(t, input, "bad.mp3", "good.mp3")

	proc := &stubProcessor{fail: map[string]error{
		"bad.mp3": &pipeline.Failure{Kind: pipeline.KindRemoteGenerationFailed, File: "bad.mp3", Err: errors.New("remote says no")},
	}}
	recorder := &memoryRecorder{}
	runner := newTestRunner(proc, recorder)

	summary, err := runner.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("a per-file failure must not abort the batch: %v", err)
	}

	if summary.Failed != 1 || summary.Processed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(proc.calls) != 2 {
		t.Fatalf("expected both files attempted, got %v", proc.calls)
	}

	if len(recorder.records) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(recorder.records))
	}
	failed := recorder.records[0]
	if failed.File != "bad.mp3" || failed.FailureKind != string(pipeline.KindRemoteGenerationFailed) {
		t.Fatalf("unexpected failure record %+v", failed)
	}
	succeeded := recorder.records[1]
	if succeeded.File != "good.mp3" || succeeded.FailureKind != "" {
		t.Fatalf("unexpected success record %+v", succeeded)
	}
	if failed.BatchID == "" || failed.BatchID != succeeded.BatchID {
		t.Fatalf("records must share the runner's batch id")
	}
}

func TestRunPayloadTooLargeDoesNotCrashBatch(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	writeFiles(t, input, "huge.mp3", "small.mp3")

	proc := &stubProcessor{fail: map[string]error{
		"huge.mp3": &pipeline.Failure{Kind: pipeline.KindPayloadTooLarge, File: "huge.mp3", Err: errors.New("413")},
	}}
	runner := newTestRunner(proc, nil)

	summary, err := runner.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Processed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunMissingInputDirIsFatal(t *testing.T) {
	runner := newTestRunner(&stubProcessor{}, nil)
	if _, err := runner.Run(context.Background(), filepath.Join(t.TempDir(), "absent"), t.TempDir()); err == nil {
		t.Fatalf("expected error for missing input directory")
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	proc := &stubProcessor{}
	runner := newTestRunner(proc, nil)

	summary, err := runner.Run(context.Background(), t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary != (Summary{}) {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}

func TestRunCancelledContextAborts(t *testing.T) {
	input := t.TempDir()
	writeFiles(t, input, "a.mp3", "b.mp3")

	proc := &stubProcessor{}
	runner := newTestRunner(proc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runner.Run(ctx, input, t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(proc.calls) != 0 {
		t.Fatalf("no file should be processed after cancellation")
	}
}
