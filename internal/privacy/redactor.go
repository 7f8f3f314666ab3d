package privacy

import (
	"github.com/google/uuid"
)

// Redactor replaces detected PHI with placeholders
type Redactor struct {
	detector *Detector
	newID    func() string
}

// NewRedactor creates a redactor backed by the given detector
func NewRedactor(detector *Detector) *Redactor {
	return &Redactor{
		detector: detector,
		newID:    uuid.NewString,
	}
}

// Detector returns the underlying detector
func (r *Redactor) Detector() *Detector {
	return r.detector
}

// Sanitize redacts text according to the policy.
// Every call that redacts something gets a fresh mapping id, even for identical input.
func (r *Redactor) Sanitize(text string, policy Policy) SanitizationResult {
	if policy.Mode == ModeDisabled {
		return unchanged(text)
	}

	matches := r.detector.Detect(text, policy)
	if len(matches) == 0 {
		return unchanged(text)
	}

	splices := make([]splice, len(matches))
	for i, m := range matches {
		splices[i] = splice{start: m.Start, end: m.End, with: m.Placeholder}
	}

	return SanitizationResult{
		SanitizedText: spliceDescending(text, splices),
		Matches:       matches,
		MappingID:     r.newID(),
	}
}

func unchanged(text string) SanitizationResult {
	return SanitizationResult{
		SanitizedText: text,
		Matches:       []Match{},
		MappingID:     "",
	}
}
