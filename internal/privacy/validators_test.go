package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidators(t *testing.T) {
	tests := []struct {
		name      string
		validator func(string) bool
		input     string
		want      bool
	}{
		{"ssn valid", validSSN, "123-45-6789", true},
		{"ssn spaced", validSSN, "123 45 6789", true},
		{"ssn area 000", validSSN, "000-12-3456", false},
		{"ssn area 666", validSSN, "666-12-3456", false},
		{"ssn area 9xx", validSSN, "912-34-5678", false},
		{"ssn group 00", validSSN, "123-00-4567", false},
		{"ssn serial 0000", validSSN, "123-45-0000", false},
		{"ssn short", validSSN, "123-45-678", false},

		{"email valid", validEmail, "jane.doe@hospital.org", true},
		{"email test domain", validEmail, "test@test.com", false},
		{"email example subdomain", validEmail, "a@mail.example.com", false},
		{"email no tld", validEmail, "a@localhost", false},

		{"phone valid", validPhone, "555-234-5678", true},
		{"phone country code", validPhone, "+1 (555) 234-5678", true},
		{"phone area starts 1", validPhone, "155-234-5678", false},
		{"phone exchange starts 0", validPhone, "555-034-5678", false},
		{"phone too short", validPhone, "555-2345", false},

		{"date us", validDate, "01/02/1990", true},
		{"date iso", validDate, "1990-01-02", true},
		{"date leap day", validDate, "2/29/2000", true},
		{"date feb 30", validDate, "02/30/1990", false},
		{"date month 13", validDate, "13/01/1990", false},
		{"date before 1900", validDate, "01/01/1850", false},
		{"date future", validDate, "01/01/2999", false},

		{"name person", validName, "John Smith", true},
		{"name stopword", validName, "Care Center", false},

		{"identifier with digit", hasDigit, "A12345", true},
		{"identifier letters only", hasDigit, "ABCDEF", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.validator(tt.input))
		})
	}
}
