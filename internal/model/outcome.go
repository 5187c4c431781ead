package model

// OutcomeStatus tags a processed row
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "SUCCESS"
	OutcomeFailure OutcomeStatus = "FAILURE"
)

// FailureReason classifies a failed row
type FailureReason string

const (
	ReasonInvalidRow      FailureReason = "INVALID_ROW"
	ReasonLookupError     FailureReason = "LOOKUP_ERROR"
	ReasonDownstreamError FailureReason = "DOWNSTREAM_ERROR"
)

// Outcome is the result of processing a single row
type Outcome struct {
	Status     OutcomeStatus
	Row        Row
	Reason     FailureReason
	Message    string
	ResourceID string
}

// Success builds a successful outcome for row
func Success(row Row, resourceID string) Outcome {
	return Outcome{Status: OutcomeSuccess, Row: row, ResourceID: resourceID}
}

// Failure builds a failed outcome for row
func Failure(row Row, reason FailureReason, message string) Outcome {
	return Outcome{Status: OutcomeFailure, Row: row, Reason: reason, Message: message}
}
