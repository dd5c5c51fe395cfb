package domain

import "fmt"

// FailureKind classifies stage failures for the error-propagation policy.
type FailureKind string

const (
	FailBlobNotFound       FailureKind = "BLOB_NOT_FOUND"
	FailUnreadableImage    FailureKind = "UNREADABLE_IMAGE"
	FailOCRUnavailable     FailureKind = "OCR_PROVIDER_UNAVAILABLE"
	FailEmptyText          FailureKind = "EMPTY_TEXT"
	FailMalformedOutput    FailureKind = "MALFORMED_STRUCTURED_OUTPUT"
	FailExtractUnavailable FailureKind = "EXTRACTION_PROVIDER_UNAVAILABLE"
	FailNoVendorsFound     FailureKind = "NO_VENDORS_FOUND"
	FailCreditRejected     FailureKind = "CREDIT_REJECTED"
	FailMalformedState     FailureKind = "MALFORMED_STORED_STATE"
	FailStorage            FailureKind = "STORAGE_UNAVAILABLE"
)

// StageOutcome tags the result union of a stage handler.
type StageOutcome int

const (
	OutcomeOK StageOutcome = iota
	OutcomeSoftFail
	OutcomeHardFail
	OutcomeTransient
)

// StageResult is the explicit result union returned by stage handlers.
// The queue substrate re-schedules only Transient results; SoftFail parks
// the artifact in PENDING_REVIEW and counts as a successful job.
type StageResult struct {
	Outcome StageOutcome
	Next    ArtifactStatus // set for OK
	Reason  string         // set for SoftFail
	Kind    FailureKind    // set for HardFail / Transient
	Err     error
}

// StageOK advances the artifact to next.
func StageOK(next ArtifactStatus) StageResult {
	return StageResult{Outcome: OutcomeOK, Next: next}
}

// SoftFail parks the artifact for human review.
func SoftFail(reason string) StageResult {
	return StageResult{Outcome: OutcomeSoftFail, Next: ArtifactPendingReview, Reason: reason}
}

// HardFail marks the artifact FAILED without further retries.
func HardFail(kind FailureKind, err error) StageResult {
	return StageResult{Outcome: OutcomeHardFail, Next: ArtifactFailed, Kind: kind, Err: err}
}

// TransientFail requests a retry with backoff.
func TransientFail(kind FailureKind, err error) StageResult {
	return StageResult{Outcome: OutcomeTransient, Kind: kind, Err: err}
}

// Error renders the failure for last_error persistence.
func (r StageResult) Error() string {
	switch r.Outcome {
	case OutcomeSoftFail:
		return r.Reason
	case OutcomeHardFail, OutcomeTransient:
		if r.Err != nil {
			return fmt.Sprintf("%s: %v", r.Kind, r.Err)
		}
		return string(r.Kind)
	default:
		return ""
	}
}
