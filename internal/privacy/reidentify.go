package privacy

import (
	"time"
)

// Reidentifier restores original values into sanitized text
type Reidentifier struct {
	now func() time.Time
}

// NewReidentifier creates a reidentifier using the wall clock
func NewReidentifier() *Reidentifier {
	return &Reidentifier{now: time.Now}
}

// NewReidentifierWithClock creates a reidentifier with an injected clock
func NewReidentifierWithClock(now func() time.Time) *Reidentifier {
	return &Reidentifier{now: now}
}

// Reidentify replaces every placeholder the record can resolve and leaves the
// rest verbatim. A nil or expired record resolves nothing. It never fails.
func (r *Reidentifier) Reidentify(text string, record *MappingRecord) ReidentificationResult {
	result := ReidentificationResult{
		OriginalText: text,
		Matches:      []RestoredMatch{},
	}
	if record == nil || len(record.Mappings) == 0 || record.Expired(r.now()) {
		return result
	}

	var (
		splices  []splice
		resolved []RestoredMatch
	)
	for _, loc := range placeholderPattern.FindAllStringIndex(text, -1) {
		token := text[loc[0]:loc[1]]

		original, ok := record.Mappings[token]
		if !ok {
			continue
		}

		category, index, err := ParsePlaceholder(token)
		if err != nil {
			continue
		}

		splices = append(splices, splice{start: loc[0], end: loc[1], with: original})
		resolved = append(resolved, RestoredMatch{
			Category:    category,
			Index:       index,
			Placeholder: token,
		})
	}

	if len(splices) == 0 {
		return result
	}

	result.OriginalText = spliceDescending(text, splices)

	// Offsets refer to the restored output, so carry the length delta of every earlier splice.
	shift := 0
	for i, s := range splices {
		start := s.start + shift
		resolved[i].Start = start
		resolved[i].End = start + len(s.with)
		shift += len(s.with) - (s.end - s.start)
	}
	result.Matches = resolved

	return result
}

// Reidentify restores text with a wall-clock reidentifier
func Reidentify(text string, record *MappingRecord) ReidentificationResult {
	return NewReidentifier().Reidentify(text, record)
}
