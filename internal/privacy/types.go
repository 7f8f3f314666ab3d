package privacy

import (
	"regexp"
	"time"
)

// Mode controls whether redaction runs for a tenant
type Mode string

const (
	// ModeAuto sanitizes every outbound message
	ModeAuto Mode = "auto"
	// ModeManual sanitizes only when the caller asks for it
	ModeManual Mode = "manual"
	// ModeDisabled turns Sanitize into a no-op
	ModeDisabled Mode = "disabled"
)

// ReidentificationPolicy controls whether and for how long a redaction can be reversed
type ReidentificationPolicy struct {
	Allowed          bool    `json:"allowed"`
	RequiresApproval bool    `json:"requiresApproval"`
	MappingTTLHours  float64 `json:"mappingTtlHours"`
}

// Policy is the per-tenant PHI configuration
type Policy struct {
	Mode             Mode                   `json:"mode"`
	Categories       map[Category]bool      `json:"categories"`
	Reidentification ReidentificationPolicy `json:"reidentification"`
}

// Enabled reports whether the policy turns on the given category
func (p Policy) Enabled(c Category) bool {
	return p.Categories[c]
}

// MatchRule represents a single PHI detection rule
type MatchRule struct {
	Category Category
	// Patterns with a capture group named "value" redact only that group.
	Patterns   []*regexp.Regexp
	Validator  func(candidate string) bool
	Confidence float64
}

// Match is one accepted detection inside a single Detect call
type Match struct {
	Category    Category `json:"category"`
	Original    string   `json:"-"` // Never serialize original text
	Placeholder string   `json:"placeholder"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Confidence  float64  `json:"confidence"`
}

// SanitizationResult contains the result of redacting one text field
type SanitizationResult struct {
	SanitizedText string  `json:"sanitizedText"`
	Matches       []Match `json:"matches"`
	// MappingID is empty when nothing was redacted.
	MappingID string `json:"mappingId"`
}

// OwnerScope ties a mapping record to the tenant and session that created it
type OwnerScope struct {
	TenantID  string `json:"tenantId"`
	SessionID string `json:"sessionId"`
}

// MappingRecord is the persisted placeholder → original table for one Sanitize call
type MappingRecord struct {
	ID        string            `json:"id"`
	Owner     OwnerScope        `json:"owner"`
	Mappings  map[string]string `json:"mappings"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// RestoredMatch describes one placeholder resolved by Reidentify
type RestoredMatch struct {
	Category    Category `json:"category"`
	Index       int      `json:"index"`
	Placeholder string   `json:"placeholder"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
}

// ReidentificationResult contains the restored text and the placeholders that were resolved
type ReidentificationResult struct {
	OriginalText string          `json:"originalText"`
	Matches      []RestoredMatch `json:"matches"`
}
