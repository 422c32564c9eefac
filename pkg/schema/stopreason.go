package schema

////////////////////////////////////////////////////////////////////////////////
// TYPES

// StopReason classifies why the model stopped generating
type StopReason string

// StopInfo carries the stop reason together with a human-readable note and
// a flag indicating whether the note should be surfaced to the end user.
type StopInfo struct {
	Reason       StopReason `json:"reason"`
	StopSequence string     `json:"stop_sequence,omitempty"` // Set when Reason is StopSequence
	Message      string     `json:"message,omitempty"`
	ShouldNotify bool       `json:"should_notify,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
	StopToolUse   StopReason = "tool_use"
	StopRefusal   StopReason = "refusal"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewStopInfo classifies a stop reason, attaching a note for conditions
// the caller may want to relay to the user. Truncation and unrecognized
// reasons are flagged for notification.
func NewStopInfo(reason StopReason, stopSequence string) StopInfo {
	info := StopInfo{Reason: reason, StopSequence: stopSequence}
	switch reason {
	case StopEndTurn, StopToolUse:
		// Normal completion, nothing to report
	case StopSequence:
		info.Message = "Response ended at stop sequence: " + stopSequence
	case StopMaxTokens:
		info.Message = "Response was truncated because it reached the maximum token limit."
		info.ShouldNotify = true
	case StopRefusal:
		info.Message = "The model declined to generate a response for this request."
		info.ShouldNotify = true
	default:
		info.Message = "Response ended for an unexpected reason: " + string(reason)
		info.ShouldNotify = true
	}
	return info
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Terminal returns true when the stop reason ends the conversation turn
// without requiring tool results
func (r StopReason) Terminal() bool {
	return r != StopToolUse
}
