package voice

import "errors"

// FailureKind classifies an upstream failure for user-facing reporting.
type FailureKind int

const (
	FailureGeneric FailureKind = iota
	FailureAuth
	FailureRateLimited
	FailureQuota
	FailureBadRequest
	FailureValidation
	FailureUnavailable
	FailureCapture
)

func (k FailureKind) String() string {
	switch k {
	case FailureAuth:
		return "auth"
	case FailureRateLimited:
		return "rate_limited"
	case FailureQuota:
		return "quota"
	case FailureBadRequest:
		return "bad_request"
	case FailureValidation:
		return "validation"
	case FailureUnavailable:
		return "unavailable"
	case FailureCapture:
		return "capture"
	}
	return "generic"
}

// Sentinel errors wrapped by the adapters so the pipeline can classify
// failures without knowing provider specifics.
var (
	ErrAuth          = errors.New("authentication or configuration rejected")
	ErrRateLimited   = errors.New("rate limited")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrBadRequest    = errors.New("request rejected as malformed")
	ErrValidation    = errors.New("synthesis result failed validation")
	ErrUnavailable   = errors.New("upstream service unavailable")

	// ErrCaptureAborted marks an engine-initiated capture stop. Reported on
	// the capture error channel and silently ignored by the session.
	ErrCaptureAborted = errors.New("capture aborted")
)

// KindOf maps an error to its failure class.
func KindOf(err error) FailureKind {
	switch {
	case errors.Is(err, ErrAuth):
		return FailureAuth
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrQuotaExceeded):
		return FailureQuota
	case errors.Is(err, ErrBadRequest):
		return FailureBadRequest
	case errors.Is(err, ErrValidation):
		return FailureValidation
	case errors.Is(err, ErrUnavailable):
		return FailureUnavailable
	}
	return FailureGeneric
}

// UserMessage returns the once-per-turn user-facing text for a generation
// failure class.
func UserMessage(kind FailureKind) string {
	switch kind {
	case FailureAuth:
		return "The tutor isn't configured correctly. Please check the service credentials."
	case FailureRateLimited:
		return "The tutor is answering too many questions right now. Give it a few seconds and try again."
	case FailureBadRequest:
		return "That question couldn't be processed. Try rephrasing it."
	case FailureUnavailable:
		return "The tutor service is temporarily unreachable. Please try again shortly."
	}
	return "Something went wrong while answering. Please try again."
}

// Shown when every real synthesis tier failed and the silent placeholder was
// played instead; the text reply is still delivered.
const VoiceOutputFailedMessage = "Voice output is unavailable right now; the answer is shown as text."

// Shown when audio output itself failed mid-turn.
const PlaybackFailedMessage = "Audio playback failed for this answer."
