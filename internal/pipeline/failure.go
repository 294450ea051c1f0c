package pipeline

import (
	"errors"
	"fmt"

	"saberforge/internal/beatsage"
)

// FailureKind classifies the terminal failure of one file's run.
type FailureKind string

const (
	KindUnreadableAudioFile    FailureKind = "unreadable_audio_file"
	KindPayloadTooLarge        FailureKind = "payload_too_large"
	KindTransportError         FailureKind = "transport_error"
	KindMalformedResponse      FailureKind = "malformed_response"
	KindRemoteGenerationFailed FailureKind = "remote_generation_failed"
	KindTimedOut               FailureKind = "timed_out"
	KindArtifactWriteFailed    FailureKind = "artifact_write_failed"
	KindUnexpected             FailureKind = "unexpected_error"
)

// Failure is the kind-tagged error a pipeline run terminates with.
type Failure struct {
	Kind FailureKind
	File string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.File, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf extracts the failure kind carried by err. Errors that did not
// originate in a pipeline run report KindUnexpected.
func KindOf(err error) FailureKind {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return KindUnexpected
}

// clientFailureKind maps a remote client error onto the pipeline taxonomy.
func clientFailureKind(err error) FailureKind {
	switch {
	case beatsage.IsKind(err, beatsage.KindPayloadTooLarge):
		return KindPayloadTooLarge
	case beatsage.IsKind(err, beatsage.KindMalformedResponse):
		return KindMalformedResponse
	case beatsage.IsKind(err, beatsage.KindTransport):
		return KindTransportError
	default:
		return KindUnexpected
	}
}
