package privacy

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// digitsOnly strips every non-digit rune
func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// validSSN applies SSA issuance rules: no 000/666/9xx area, 00 group or 0000 serial
func validSSN(candidate string) bool {
	ssn := digitsOnly(candidate)
	if len(ssn) != 9 {
		return false
	}

	area := ssn[0:3]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}

	if ssn[3:5] == "00" {
		return false
	}

	return ssn[5:9] != "0000"
}

var reservedEmailDomains = map[string]bool{
	"example.com": true,
	"example.org": true,
	"example.net": true,
	"test.com":    true,
	"test.org":    true,
	"localhost":   true,
	"invalid":     true,
}

// validEmail rejects addresses on reserved or test domains
func validEmail(candidate string) bool {
	at := strings.LastIndex(candidate, "@")
	if at <= 0 || at == len(candidate)-1 {
		return false
	}

	domain := strings.ToLower(strings.TrimSuffix(candidate[at+1:], "."))
	if reservedEmailDomains[domain] {
		return false
	}
	for reserved := range reservedEmailDomains {
		if strings.HasSuffix(domain, "."+reserved) {
			return false
		}
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" {
			return false
		}
	}
	return true
}

// validPhone checks NANP shape: 10 digits (or 11 with country code 1), area and exchange starting 2-9
func validPhone(candidate string) bool {
	digits := digitsOnly(candidate)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return false
	}
	return digits[0] >= '2' && digits[3] >= '2'
}

// validDate checks month/day/year plausibility for US formatted dates (MM/DD/YYYY, MM-DD-YY)
// and ISO dates (YYYY-MM-DD).
func validDate(candidate string) bool {
	parts := strings.FieldsFunc(candidate, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) != 3 {
		return false
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return false
		}
		nums[i] = n
	}

	var year, month, day int
	if len(parts[0]) == 4 {
		year, month, day = nums[0], nums[1], nums[2]
	} else {
		month, day, year = nums[0], nums[1], nums[2]
		if len(parts[2]) == 2 {
			year += 1900
			if year+100 <= time.Now().Year() {
				year += 100
			}
		}
	}

	if year < 1900 || year > time.Now().Year() {
		return false
	}
	if month < 1 || month > 12 || day < 1 {
		return false
	}

	// time.Date normalizes overflowing days, so compare the month back
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Month() == time.Month(month)
}

// hasDigit requires at least one digit in identifier-like values
func hasDigit(candidate string) bool {
	return strings.IndexFunc(candidate, unicode.IsDigit) >= 0
}

var nameStopwords = map[string]bool{
	"care": true, "office": true, "portal": true, "records": true, "record": true,
	"services": true, "center": true, "hospital": true, "clinic": true,
	"information": true, "history": true, "name": true, "unknown": true,
}

// validName rejects title-cased phrases that are not person names
func validName(candidate string) bool {
	for _, word := range strings.Fields(candidate) {
		if nameStopwords[strings.ToLower(word)] {
			return false
		}
	}
	return true
}
