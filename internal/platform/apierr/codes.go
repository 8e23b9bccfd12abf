package apierr

// Disposition tells the worker loop and the submit path what to do with an
// error carrying one of the Code constants below.
type Disposition int

const (
	DispositionReject  Disposition = iota // fail submit before a job row ever exists
	DispositionRequeue                    // transient; requeue with backoff
	DispositionFail                       // permanent; terminal job failure
)

// Code is a stable error-code string from the taxonomy in spec.md §7.
type Code string

const (
	// Validation — reject at submit.
	CodeBadRequest        Code = "bad_request"
	CodeInvalidUUID       Code = "invalid_uuid"
	CodeLocaleNotAllowed  Code = "locale_not_allowed"

	// Auth — reject at submit.
	CodeMissingToken         Code = "missing_token"
	CodeInvalidToken         Code = "invalid_token"
	CodeMissingActorUserID   Code = "missing_actor_user_id"
	CodeActorUserNotFound    Code = "actor_user_not_found"

	// Feasibility — reject at submit.
	CodeSvcToSvcBearerMissing Code = "svc_to_svc_bearer_missing"
	CodeQuoteExpired          Code = "quote_expired"
	CodeTooManySegments       Code = "too_many_segments"

	// Transient provider — requeue with backoff up to retry cap.
	CodeProviderFiveXX     Code = "provider_5xx"
	CodeProviderTimeout    Code = "provider_timeout"
	CodeNetworkError       Code = "network_error"

	// Permanent provider — fail.
	CodeProviderFourXX          Code = "provider_4xx"
	CodeContentPolicyViolation  Code = "content_policy_violation"
	CodeInvalidFaceInput        Code = "invalid_face_input"

	// Internal — fail, preserve context.
	CodeWorkerCrash        Code = "WORKER_CRASH"
	CodeStitchFailed       Code = "STITCH_FAILED"
	CodeCommerceWorkerErr  Code = "commerce_worker_error"

	// Safety — fail, user-visible message.
	CodeUnsafePrompt Code = "unsafe_prompt"
	CodeUnsafeImage  Code = "unsafe_image"

	// Timeout — not retried automatically unless the processor classifies
	// it as recoverable (spec.md §5 Cancellation and timeouts).
	CodeTimeout Code = "TIMEOUT"
)

// dispositions maps every known code to its disposition. Codes not present
// here default to DispositionFail via Disposition() below, matching the
// taxonomy's bias toward failing loudly over silently retrying forever.
var dispositions = map[Code]Disposition{
	CodeBadRequest:            DispositionReject,
	CodeInvalidUUID:           DispositionReject,
	CodeLocaleNotAllowed:      DispositionReject,
	CodeMissingToken:          DispositionReject,
	CodeInvalidToken:          DispositionReject,
	CodeMissingActorUserID:    DispositionReject,
	CodeActorUserNotFound:     DispositionReject,
	CodeSvcToSvcBearerMissing: DispositionReject,
	CodeQuoteExpired:          DispositionReject,
	CodeTooManySegments:       DispositionReject,

	CodeProviderFiveXX:  DispositionRequeue,
	CodeProviderTimeout: DispositionRequeue,
	CodeNetworkError:    DispositionRequeue,

	CodeProviderFourXX:         DispositionFail,
	CodeContentPolicyViolation: DispositionFail,
	CodeInvalidFaceInput:       DispositionFail,
	CodeWorkerCrash:            DispositionFail,
	CodeStitchFailed:           DispositionFail,
	CodeCommerceWorkerErr:      DispositionFail,
	CodeUnsafePrompt:           DispositionFail,
	CodeUnsafeImage:            DispositionFail,
	CodeTimeout:                DispositionFail,
}

// Disposition reports how the worker loop should react to this code.
// Unknown codes fail rather than requeue forever.
func (c Code) Disposition() Disposition {
	if d, ok := dispositions[c]; ok {
		return d
	}
	return DispositionFail
}

func (c Code) String() string { return string(c) }
