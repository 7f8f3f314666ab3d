package privacy

import (
	"fmt"
	"strings"
)

// Category is a PHI category. Its string form is the identifier embedded in placeholders.
type Category string

const (
	CategoryName          Category = "NAME"
	CategorySSN           Category = "SSN"
	CategoryDOB           Category = "DOB"
	CategoryAddress       Category = "ADDRESS"
	CategoryPhone         Category = "PHONE"
	CategoryEmail         Category = "EMAIL"
	CategoryDiagnosis     Category = "DIAGNOSIS"
	CategoryTreatment     Category = "TREATMENT"
	CategoryMedicalRecord Category = "MEDICAL_RECORD"
	CategoryInsuranceID   Category = "INSURANCE_ID"
)

// AllCategories lists every known category in declaration order
var AllCategories = []Category{
	CategoryName,
	CategorySSN,
	CategoryDOB,
	CategoryAddress,
	CategoryPhone,
	CategoryEmail,
	CategoryDiagnosis,
	CategoryTreatment,
	CategoryMedicalRecord,
	CategoryInsuranceID,
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryName, CategorySSN, CategoryDOB, CategoryAddress, CategoryPhone,
		CategoryEmail, CategoryDiagnosis, CategoryTreatment, CategoryMedicalRecord,
		CategoryInsuranceID:
		return true
	default:
		return false
	}
}

// Description returns a human readable label for the category
func (c Category) Description() string {
	switch c {
	case CategoryName:
		return "person name"
	case CategorySSN:
		return "social security number"
	case CategoryDOB:
		return "date of birth"
	case CategoryAddress:
		return "street address"
	case CategoryPhone:
		return "phone number"
	case CategoryEmail:
		return "email address"
	case CategoryDiagnosis:
		return "diagnosis"
	case CategoryTreatment:
		return "treatment or medication"
	case CategoryMedicalRecord:
		return "medical record number"
	case CategoryInsuranceID:
		return "insurance identifier"
	default:
		return "unknown category"
	}
}

// ParseCategory resolves a category name, ignoring case and surrounding whitespace
func ParseCategory(name string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(name)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown PHI category: %q", name)
	}
	return c, nil
}
