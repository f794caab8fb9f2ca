package transcode

import "errors"

var (
	// ErrNotFound indicates the referenced media record does not exist.
	ErrNotFound = errors.New("media not found")

	// ErrForbidden indicates the caller does not own the media record.
	ErrForbidden = errors.New("media belongs to a different creator")

	// ErrInvalidState indicates the record's current status forbids the
	// requested operation.
	ErrInvalidState = errors.New("media is not in an eligible state")

	// ErrMaxRetriesExceeded indicates the retry budget for a failed record
	// is exhausted.
	ErrMaxRetriesExceeded = errors.New("retry limit reached")

	// ErrProviderUnavailable indicates the transcoding provider rejected the
	// job submission or could not be reached.
	ErrProviderUnavailable = errors.New("transcoding provider unavailable")

	// ErrBadSignature indicates webhook authentication failed. Callers must
	// not expose whether the media exists, the nonce matched, or the digest
	// differed.
	ErrBadSignature = errors.New("webhook signature verification failed")

	// ErrMalformedPayload indicates the webhook body failed structural
	// validation.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)
