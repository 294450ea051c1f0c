package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"saberforge/internal/models"
)

// Reader extracts tags and timing information from local audio files.
// The zero value is ready to use.
type Reader struct{}

// ReadTrack extracts title, artist, and embedded cover art from the audio
// file at path. Files without tags yield empty fields rather than an error;
// an error is returned only when the file itself cannot be opened or its
// container cannot be parsed.
func (Reader) ReadTrack(path string) (models.Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Track{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	track := models.Track{Path: path}

	meta, err := tag.ReadFrom(f)
	if err != nil {
		// An unrecognized or tagless container is not a failure; the
		// caller falls back to filename-derived metadata.
		if errors.Is(err, tag.ErrNoTagsFound) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return track, nil
		}
		return models.Track{}, fmt.Errorf("parse audio tags: %w", err)
	}

	track.Title = strings.TrimSpace(meta.Title())
	track.Artist = strings.TrimSpace(meta.Artist())
	if pic := meta.Picture(); pic != nil {
		track.CoverArt = pic.Data
	}
	return track, nil
}

// Duration reports the playable length of an MP3 file by walking its
// frames. Non-MP3 paths and undecodable data yield zero; callers treat
// zero as "unknown" and skip any duration-based checks.
func (Reader) Duration(path string) time.Duration {
	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		return 0
	}

	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total time.Duration

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total
			}
			return 0
		}
		total += frame.Duration()
	}
}
