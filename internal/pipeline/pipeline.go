// Package pipeline runs a single audio file end to end: metadata
// extraction, job submission, bounded status polling, archive download,
// and unpacking into the output directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"saberforge/internal/beatsage"
	"saberforge/internal/models"
	"saberforge/internal/naming"
)

// State identifies one step of the per-file state machine. The complete,
// failed, and timed_out states are terminal.
type State string

const (
	StateStart        State = "start"
	StateMetadataRead State = "metadata_read"
	StateSubmitted    State = "submitted"
	StatePolling      State = "polling"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
	StateTimedOut     State = "timed_out"
)

// Polling and upload limits of the public service. The service reports no
// progress, so the poll cadence is a fixed local constant rather than a
// server-provided hint.
const (
	DefaultPollInterval    = 14 * time.Second
	DefaultMaxPollAttempts = 75
	DefaultMaxUploadBytes  = 32 << 20
	DefaultMaxDuration     = 10 * time.Minute
)

// fallbackArtist is sent when the file carries no artist tag. The value is
// kept verbatim; the service's matching behavior with it is unverified but
// known to work.
const fallbackArtist = "Unknown Artist"

// TrackReader extracts tags and timing information from an audio file.
type TrackReader interface {
	ReadTrack(path string) (models.Track, error)
	Duration(path string) time.Duration
}

// JobClient is the remote surface the pipeline drives. It matches
// *beatsage.Client.
type JobClient interface {
	Submit(ctx context.Context, req beatsage.Request) (beatsage.JobHandle, error)
	Poll(ctx context.Context, handle beatsage.JobHandle) (beatsage.Status, error)
	Fetch(ctx context.Context, handle beatsage.JobHandle) (io.ReadCloser, int64, error)
}

// Options configure one pipeline instance. Zero values select the
// defaults above; MaxUploadBytes and MaxDuration may be set negative to
// disable the local pre-submit checks.
type Options struct {
	Difficulties    string
	Modes           string
	Events          string
	Environment     string
	ModelTag        string
	PollInterval    time.Duration
	MaxPollAttempts int
	MaxUploadBytes  int64
	MaxDuration     time.Duration

	// OnState is invoked on every state transition when set.
	OnState func(State)
}

// Outcome describes the terminal result of one file's run. Name and
// ExtractDir are populated as soon as they are known, including on
// failure paths.
type Outcome struct {
	State        State
	Name         string
	ExtractDir   string
	PollAttempts int
}

// Pipeline is safe for sequential reuse across files; it holds no per-file
// state between runs.
type Pipeline struct {
	reader TrackReader
	client JobClient
	opts   Options
	logger *log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a pipeline. A nil logger falls back to log.Default().
func New(reader TrackReader, client JobClient, opts Options, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if opts.MaxUploadBytes == 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.MaxDuration == 0 {
		opts.MaxDuration = DefaultMaxDuration
	}

	return &Pipeline{
		reader: reader,
		client: client,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Run processes one audio file to a terminal state. On failure the
// returned error is a *Failure carrying the failure kind; the outcome is
// still populated with whatever progress was made.
func (p *Pipeline) Run(ctx context.Context, path, outputDir string) (Outcome, error) {
	out := Outcome{State: StateStart}
	file := filepath.Base(path)

	track, err := p.reader.ReadTrack(path)
	if err != nil {
		return p.fail(&out, &Failure{Kind: KindUnreadableAudioFile, File: file, Err: err})
	}
	p.transition(&out, StateMetadataRead)

	out.Name = naming.DeriveName(path, track.Title, track.Artist)
	if track.Title == "" || track.Artist == "" {
		p.logger.Printf("%s: no usable tags, using filename %q", file, out.Name)
	}

	if err := p.checkLimits(path); err != nil {
		return p.fail(&out, &Failure{Kind: KindPayloadTooLarge, File: file, Err: err})
	}

	request, err := p.buildRequest(path, track)
	if err != nil {
		return p.fail(&out, &Failure{Kind: KindUnreadableAudioFile, File: file, Err: err})
	}

	handle, err := p.client.Submit(ctx, request)
	if err != nil {
		return p.fail(&out, &Failure{Kind: clientFailureKind(err), File: file, Err: err})
	}
	p.transition(&out, StateSubmitted)
	p.logger.Printf("%s: submitted as job %s", file, handle.ID)

	p.transition(&out, StatePolling)
	done := false
	for attempt := 1; attempt <= p.opts.MaxPollAttempts; attempt++ {
		out.PollAttempts = attempt

		status, err := p.client.Poll(ctx, handle)
		if err != nil {
			return p.fail(&out, &Failure{Kind: clientFailureKind(err), File: file, Err: err})
		}

		if status == beatsage.StatusDone {
			done = true
			break
		}
		if status == beatsage.StatusError {
			return p.fail(&out, &Failure{
				Kind: KindRemoteGenerationFailed,
				File: file,
				Err:  fmt.Errorf("job %s reported ERROR", handle.ID),
			})
		}

		if err := p.sleep(ctx, p.opts.PollInterval); err != nil {
			return p.fail(&out, &Failure{Kind: KindUnexpected, File: file, Err: err})
		}
	}
	if !done {
		out.State = StateTimedOut
		p.emit(StateTimedOut)
		return out, &Failure{
			Kind: KindTimedOut,
			File: file,
			Err:  fmt.Errorf("job %s not finished after %d polls", handle.ID, p.opts.MaxPollAttempts),
		}
	}

	if err := p.retrieve(ctx, handle, outputDir, &out); err != nil {
		var failure *Failure
		if !errors.As(err, &failure) {
			failure = &Failure{Kind: KindUnexpected, Err: err}
		}
		failure.File = file
		return p.fail(&out, failure)
	}

	p.transition(&out, StateComplete)
	return out, nil
}

// retrieve downloads the finished archive, unpacks it, and removes the
// archive once the extracted directory exists. Errors are returned as
// *Failure values without the file field set.
func (p *Pipeline) retrieve(ctx context.Context, handle beatsage.JobHandle, outputDir string, out *Outcome) error {
	stream, _, err := p.client.Fetch(ctx, handle)
	if err != nil {
		return &Failure{Kind: clientFailureKind(err), Err: err}
	}
	defer stream.Close()

	archivePath := filepath.Join(outputDir, out.Name+".zip")
	archive, err := os.Create(archivePath)
	if err != nil {
		return &Failure{Kind: KindArtifactWriteFailed, Err: fmt.Errorf("create archive: %w", err)}
	}

	if _, err := io.Copy(archive, stream); err != nil {
		archive.Close()
		os.Remove(archivePath)
		return &Failure{Kind: KindTransportError, Err: fmt.Errorf("download interrupted: %w", err)}
	}
	if err := archive.Close(); err != nil {
		return &Failure{Kind: KindArtifactWriteFailed, Err: fmt.Errorf("close archive: %w", err)}
	}

	extractDir := filepath.Join(outputDir, out.Name)
	if err := extractArchive(archivePath, extractDir); err != nil {
		return &Failure{Kind: KindArtifactWriteFailed, Err: err}
	}
	out.ExtractDir = extractDir

	// The archive is an intermediate, never a deliverable: once the
	// directory exists the zip goes away.
	if _, err := os.Stat(extractDir); err == nil {
		if err := os.Remove(archivePath); err != nil {
			return &Failure{Kind: KindArtifactWriteFailed, Err: fmt.Errorf("remove archive: %w", err)}
		}
	}
	return nil
}

// buildRequest assembles the submission payload, falling back to the file
// stem as title and a placeholder artist when tags are absent.
func (p *Pipeline) buildRequest(path string, track models.Track) (beatsage.Request, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return beatsage.Request{}, fmt.Errorf("read audio file: %w", err)
	}

	base := filepath.Base(path)
	title := track.Title
	if title == "" {
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	artist := track.Artist
	if artist == "" {
		artist = fallbackArtist
	}

	return beatsage.Request{
		Title:        title,
		Artist:       artist,
		Difficulties: p.opts.Difficulties,
		Modes:        p.opts.Modes,
		Events:       p.opts.Events,
		Environment:  p.opts.Environment,
		ModelTag:     p.opts.ModelTag,
		Audio:        audio,
		CoverArt:     track.CoverArt,
	}, nil
}

// checkLimits rejects files the service would refuse with HTTP 413,
// before spending an upload on them.
func (p *Pipeline) checkLimits(path string) error {
	if p.opts.MaxUploadBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat audio file: %w", err)
		}
		if info.Size() > p.opts.MaxUploadBytes {
			return fmt.Errorf("file is %d bytes, over the %d byte upload limit", info.Size(), p.opts.MaxUploadBytes)
		}
	}

	if p.opts.MaxDuration > 0 {
		if duration := p.reader.Duration(path); duration > p.opts.MaxDuration {
			return fmt.Errorf("track runs %s, over the %s limit", duration.Round(time.Second), p.opts.MaxDuration)
		}
	}
	return nil
}

func (p *Pipeline) transition(out *Outcome, state State) {
	out.State = state
	p.emit(state)
}

func (p *Pipeline) fail(out *Outcome, failure *Failure) (Outcome, error) {
	out.State = StateFailed
	p.emit(StateFailed)
	return *out, failure
}

func (p *Pipeline) emit(state State) {
	if p.opts.OnState != nil {
		p.opts.OnState(state)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
