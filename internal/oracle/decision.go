package oracle

import "fmt"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Tone string

const (
	ToneFriendly    Tone = "friendly"
	ToneHype        Tone = "hype"
	ToneCalm        Tone = "calm"
	ToneEncouraging Tone = "encouraging"
)

// MaxMessageLen caps the notification text the oracle may produce.
const MaxMessageLen = 200

// Decision is the oracle's validated output. A Decision is only ever
// constructed after schema, enum, and length checks pass; callers never
// see a partially populated value.
type Decision struct {
	ShouldNotify bool     `json:"shouldNotify"`
	Priority     Priority `json:"priority"`
	Tone         Tone     `json:"tone"`
	Message      string   `json:"message"`
	Reason       string   `json:"reason"`
}

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func ValidTone(t Tone) bool {
	switch t {
	case ToneFriendly, ToneHype, ToneCalm, ToneEncouraging:
		return true
	}
	return false
}

// rawDecision is the untyped intermediate the response is parsed into.
// Pointer fields distinguish "absent" from zero values.
type rawDecision struct {
	ShouldNotify *bool   `json:"shouldNotify"`
	Priority     *string `json:"priority"`
	Tone         *string `json:"tone"`
	Message      *string `json:"message"`
	Reason       *string `json:"reason"`
}

func (r *rawDecision) validate() (*Decision, error) {
	for name, ok := range map[string]bool{
		"shouldNotify": r.ShouldNotify != nil,
		"priority":     r.Priority != nil,
		"tone":         r.Tone != nil,
		"message":      r.Message != nil,
		"reason":       r.Reason != nil,
	} {
		if !ok {
			return nil, &ValidationError{Reason: "missing field: " + name}
		}
	}

	d := &Decision{
		ShouldNotify: *r.ShouldNotify,
		Priority:     Priority(*r.Priority),
		Tone:         Tone(*r.Tone),
		Message:      *r.Message,
		Reason:       *r.Reason,
	}
	if !ValidPriority(d.Priority) {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid priority: %q", d.Priority)}
	}
	if !ValidTone(d.Tone) {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid tone: %q", d.Tone)}
	}
	if len(d.Message) > MaxMessageLen {
		return nil, &ValidationError{Reason: fmt.Sprintf("message too long (%d > %d chars)", len(d.Message), MaxMessageLen)}
	}
	return d, nil
}
