package privacy

import (
	"sort"

	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/logger"
)

// Detector finds PHI in text using the rules of a catalog.
// It holds no per-call state and is safe for concurrent use.
type Detector struct {
	catalog *Catalog
	logger  *logger.Logger
}

// NewDetector creates a detector over the given catalog (the default one when nil)
func NewDetector(catalog *Catalog, log *logger.Logger) *Detector {
	if catalog == nil {
		catalog = defaultCatalog
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Detector{
		catalog: catalog,
		logger:  log,
	}
}

// Catalog returns the catalog the detector scans with
func (d *Detector) Catalog() *Catalog {
	return d.catalog
}

// Detect returns the accepted matches in text ordered by start offset.
// Candidates overlapping an already accepted match are dropped, so rules
// earlier in the catalog win contested spans regardless of confidence.
func (d *Detector) Detect(text string, policy Policy) []Match {
	matches := make([]Match, 0)
	if text == "" {
		return matches
	}

	rules := d.catalog.EnabledRules(policy)

	// Counters live only for this call; a shared counter would collide across requests.
	counters := make(map[Category]int, len(rules))
	literal := literalPlaceholders(text)

	var accepted spanSet
	for _, rule := range rules {
		for _, re := range rule.Patterns {
			group := re.SubexpIndex(valueGroup)

			// Spans from one pattern are ascending and disjoint; they join
			// the accepted set only once the pattern is exhausted.
			var pending []span
			for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
				start, end := loc[0], loc[1]
				if group > 0 {
					start, end = loc[2*group], loc[2*group+1]
				}
				if start < 0 || start >= end {
					continue
				}

				candidate := text[start:end]
				if !d.validate(rule, candidate) {
					continue
				}

				if accepted.overlaps(start, end) {
					continue
				}

				pending = append(pending, span{start: start, end: end})
				matches = append(matches, Match{
					Category:    rule.Category,
					Original:    candidate,
					Placeholder: nextPlaceholder(literal, rule.Category, counters),
					Start:       start,
					End:         end,
					Confidence:  rule.Confidence,
				})
			}
			accepted = accepted.merge(pending)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})

	if len(matches) > 0 {
		d.logger.Debug("PHI detected",
			zap.Int("matches", len(matches)),
			zap.Int("enabled_rules", len(rules)),
		)
	}

	return matches
}

// validate runs the rule's validator; a panicking validator rejects the candidate
func (d *Detector) validate(rule MatchRule, candidate string) (ok bool) {
	if rule.Validator == nil {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("Validator panicked, candidate rejected",
				zap.String("category", string(rule.Category)),
				zap.Any("panic", r),
			)
			ok = false
		}
	}()

	return rule.Validator(candidate)
}

type span struct {
	start int
	end   int
}

// spanSet is a list of disjoint spans sorted by start, so ends are sorted too
type spanSet []span

// overlaps reports whether [start,end) intersects any span in the set
func (s spanSet) overlaps(start, end int) bool {
	i := sort.Search(len(s), func(k int) bool { return s[k].start >= end })
	return i > 0 && s[i-1].end > start
}

// merge combines two sorted, mutually disjoint span lists
func (s spanSet) merge(add []span) spanSet {
	if len(add) == 0 {
		return s
	}

	out := make(spanSet, 0, len(s)+len(add))
	i, j := 0, 0
	for i < len(s) && j < len(add) {
		if s[i].start < add[j].start {
			out = append(out, s[i])
			i++
		} else {
			out = append(out, add[j])
			j++
		}
	}
	out = append(out, s[i:]...)
	return append(out, add[j:]...)
}

// literalPlaceholders collects the placeholders already written in the input
func literalPlaceholders(text string) map[string]struct{} {
	spans := PlaceholderSpans(text)
	literal := make(map[string]struct{}, len(spans))
	for _, loc := range spans {
		literal[text[loc[0]:loc[1]]] = struct{}{}
	}
	return literal
}

// nextPlaceholder advances the category counter, skipping any placeholder
// already present literally in the input so restoration stays unambiguous.
func nextPlaceholder(literal map[string]struct{}, c Category, counters map[Category]int) string {
	for {
		counters[c]++
		placeholder := FormatPlaceholder(c, counters[c])
		if _, taken := literal[placeholder]; !taken {
			return placeholder
		}
	}
}

// CategoryCounts summarizes matches per category, for audit events that must not carry values
func CategoryCounts(matches []Match) map[Category]int {
	counts := make(map[Category]int)
	for _, m := range matches {
		counts[m.Category]++
	}
	return counts
}
