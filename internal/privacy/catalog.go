package privacy

import "regexp"

// valueGroup names the capture group that narrows a hit to the redacted value
const valueGroup = "value"

// Catalog is an ordered, immutable set of detection rules.
// Rule order is the tie-break priority when candidates from different rules overlap.
type Catalog struct {
	rules []MatchRule
}

// NewCatalog builds a catalog from rules in priority order
func NewCatalog(rules ...MatchRule) *Catalog {
	cp := make([]MatchRule, len(rules))
	copy(cp, rules)
	return &Catalog{rules: cp}
}

// Rules returns every rule in catalog order
func (c *Catalog) Rules() []MatchRule {
	out := make([]MatchRule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Categories returns the category of each rule in catalog order
func (c *Catalog) Categories() []Category {
	out := make([]Category, 0, len(c.rules))
	for _, rule := range c.rules {
		out = append(out, rule.Category)
	}
	return out
}

// EnabledRules filters the catalog by the policy's category switches, keeping catalog order
func (c *Catalog) EnabledRules(policy Policy) []MatchRule {
	enabled := make([]MatchRule, 0, len(c.rules))
	for _, rule := range c.rules {
		if policy.Enabled(rule.Category) {
			enabled = append(enabled, rule)
		}
	}
	return enabled
}

// EnabledRules filters the default catalog
func EnabledRules(policy Policy) []MatchRule {
	return defaultCatalog.EnabledRules(policy)
}

// DefaultCatalog returns the built-in rule set
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

var defaultCatalog = NewCatalog(defaultRules()...)

func defaultRules() []MatchRule {
	return []MatchRule{
		{
			Category: CategorySSN,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
				regexp.MustCompile(`(?i)\b(?:SSN|social security(?: number)?)\s*(?:#|no\.?)?\s*[:=]?\s*(?P<value>\d{3} ?\d{2} ?\d{4})\b`),
			},
			Validator:  validSSN,
			Confidence: 0.95,
		},
		{
			Category: CategoryMedicalRecord,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:MRN|medical record(?: number| no\.?)?)\s*[:#]?\s*(?P<value>[A-Z0-9][A-Z0-9-]{3,14}[A-Z0-9])\b`),
			},
			Validator:  hasDigit,
			Confidence: 0.9,
		},
		{
			Category: CategoryInsuranceID,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:insurance|policy|member|subscriber|medicaid|medicare)\s*(?:id|#|no\.?|number)\s*[:#]?\s*(?P<value>[A-Z0-9][A-Z0-9-]{3,18}[A-Z0-9])\b`),
			},
			Validator:  hasDigit,
			Confidence: 0.85,
		},
		{
			Category: CategoryEmail,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			},
			Validator:  validEmail,
			Confidence: 0.95,
		},
		{
			Category: CategoryPhone,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?:\+?\b1[-.\s])?(?:\(\d{3}\)\s?|\b\d{3}[-.\s]?)\d{3}[-.\s]?\d{4}\b`),
			},
			Validator:  validPhone,
			Confidence: 0.85,
		},
		{
			Category: CategoryDOB,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:DOB|date of birth|birth ?date|born(?: on)?)\s*[:\-]?\s*(?P<value>\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}|\d{4}-\d{2}-\d{2})\b`),
			},
			Validator:  validDate,
			Confidence: 0.9,
		},
		{
			Category: CategoryName,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(?i:patient name\s*:|name\s*:|my name is|patient|pt\.|mrs\.?|mr\.?|ms\.?|miss|dr\.?|doctor)\s+(?P<value>[A-Z][a-z]+(?:[ '\-][A-Z][a-z]+){1,3})\b`),
			},
			Validator:  validName,
			Confidence: 0.75,
		},
		{
			Category: CategoryAddress,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{1,6}\s+(?:[A-Z][a-z]+\s+){1,4}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl|Circle|Cir|Terrace|Parkway|Pkwy)\b`),
				regexp.MustCompile(`\b\d{5}-\d{4}\b`),
			},
			Confidence: 0.8,
		},
		{
			Category: CategoryDiagnosis,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:diagnosed with|diagnosis(?: of)?|dx)\s*[:\-]?\s*(?P<value>[A-Za-z][A-Za-z0-9' \-]{0,60}?[A-Za-z0-9])\s*(?:[.,;\n]|$)`),
				regexp.MustCompile(`(?i)\bICD(?:-?10)?(?: code)?\s*[:#]?\s*(?P<value>[A-TV-Z][0-9][0-9A-Z](?:\.[0-9A-Z]{1,4})?)\b`),
				regexp.MustCompile(`(?i)\b(?:type [12] diabetes|diabetes|hypertension|HIV|AIDS|cancer|asthma|depression|schizophrenia|bipolar disorder|hepatitis [ABC]|COPD|dementia|alzheimer'?s(?: disease)?|epilepsy|tuberculosis)\b`),
			},
			Confidence: 0.7,
		},
		{
			Category: CategoryTreatment,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:prescribed|started on|treated with|medications?\s*:|rx\s*:)\s*(?P<value>[A-Za-z][A-Za-z0-9 \-]{0,40}?[A-Za-z0-9])\s*(?:[.,;\n]|$)`),
				regexp.MustCompile(`(?i)\b[A-Za-z]{4,}\s+\d+(?:\.\d+)?\s?(?:mg|mcg|ml|units?)\b`),
				regexp.MustCompile(`(?i)\b(?:chemotherapy|radiation therapy|dialysis|insulin|methadone)\b`),
			},
			Confidence: 0.65,
		},
	}
}
