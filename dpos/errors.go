package dpos

import "fmt"

// ErrorCode is the §7 error taxonomy emitted by the voter via Output.VErrors.
type ErrorCode string

const (
	ErrMalformed       ErrorCode = "MALFORMED"
	ErrInvalid         ErrorCode = "INVALID"
	ErrDoublesign      ErrorCode = "DOUBLESIGN"
	ErrUnknownAncestor ErrorCode = "UNKNOWN_ANCESTOR"
)

// VError reports a recoverable fault attributable to a specific peer (§7).
// It is never fatal: the caller uses it to grade a DoS-penalty score.
type VError struct {
	Code  ErrorCode
	Voter VoterID
	Msg   string
}

func (e *VError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func verr(code ErrorCode, voter VoterID, msg string) *VError {
	return &VError{Code: code, Voter: voter, Msg: msg}
}

// ErrInconsistentState is raised by verifyVotingState when an internal
// invariant (§3 Invariants) is violated. It is always fatal: persistence is
// considered corrupted and the caller must reindex (§7 User-visible failure).
type ErrInconsistentState struct {
	Reason string
}

func (e *ErrInconsistentState) Error() string {
	return fmt.Sprintf("dpos: voting state inconsistent: %s", e.Reason)
}
