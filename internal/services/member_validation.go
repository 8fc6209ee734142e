package services

import (
	"net/mail"
	"strings"
	"time"

	"github.com/dkomics/church-portal/internal/models"
)

const dateLayout = "2006-01-02"

// MemberInput is the writable part of a member record. Dates use YYYY-MM-DD;
// empty optional fields are stored empty.
type MemberInput struct {
	BranchID          *uint  `json:"branch_id"`
	FullName          string `json:"full_name"`
	Gender            string `json:"gender"`
	AgeCategory       string `json:"age_category"`
	DateOfBirth       string `json:"dob"`
	MaritalStatus     string `json:"marital_status"`
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	Address           string `json:"address"`
	SalvationDate     string `json:"salvation_date"`
	Baptized          string `json:"baptized"`
	BaptismDate       string `json:"baptism_date"`
	MembershipClass   string `json:"membership_class"`
	PreviousChurch    string `json:"previous_church"`
	EmergencyName     string `json:"emergency_name"`
	EmergencyRelation string `json:"emergency_relation"`
	EmergencyPhone    string `json:"emergency_phone"`
	MembershipType    string `json:"membership_type"`
	RegistrationDate  string `json:"registration_date"`
}

// AgeCategoryFor maps an age in whole years to its category.
func AgeCategoryFor(age int) string {
	switch {
	case age < 13:
		return models.AgeChild
	case age <= 35:
		return models.AgeYouth
	default:
		return models.AgeAdult
	}
}

// ageAt returns completed years between dob and ref.
func ageAt(dob, ref time.Time) int {
	age := ref.Year() - dob.Year()
	if ref.Month() < dob.Month() || (ref.Month() == dob.Month() && ref.Day() < dob.Day()) {
		age--
	}
	return age
}

// buildMember validates in and returns the resulting record fields. Nothing
// is returned unless every rule holds.
func buildMember(in MemberInput, today time.Time) (*models.Member, error) {
	verr := &ValidationError{}
	trim := strings.TrimSpace

	m := &models.Member{
		FullName:          trim(in.FullName),
		Gender:            trim(in.Gender),
		AgeCategory:       trim(in.AgeCategory),
		MaritalStatus:     trim(in.MaritalStatus),
		Phone:             trim(in.Phone),
		Email:             trim(in.Email),
		Address:           trim(in.Address),
		Baptized:          trim(in.Baptized),
		MembershipClass:   trim(in.MembershipClass),
		PreviousChurch:    trim(in.PreviousChurch),
		EmergencyName:     trim(in.EmergencyName),
		EmergencyRelation: trim(in.EmergencyRelation),
		EmergencyPhone:    trim(in.EmergencyPhone),
		MembershipType:    trim(in.MembershipType),
	}

	required := map[string]string{
		"full_name":          m.FullName,
		"gender":             m.Gender,
		"address":            m.Address,
		"baptized":           m.Baptized,
		"emergency_name":     m.EmergencyName,
		"emergency_relation": m.EmergencyRelation,
		"emergency_phone":    m.EmergencyPhone,
		"membership_type":    m.MembershipType,
	}
	for field, v := range required {
		if v == "" {
			verr.add(field, "this field is required")
		}
	}

	maxLen := []struct {
		field string
		value string
		limit int
	}{
		{"full_name", m.FullName, 100},
		{"phone", m.Phone, 15},
		{"address", m.Address, 255},
		{"previous_church", m.PreviousChurch, 100},
		{"emergency_name", m.EmergencyName, 100},
		{"emergency_relation", m.EmergencyRelation, 50},
		{"emergency_phone", m.EmergencyPhone, 15},
	}
	for _, c := range maxLen {
		if len(c.value) > c.limit {
			verr.add(c.field, "value is too long")
		}
	}

	oneOf(verr, "gender", m.Gender, models.Genders)
	oneOf(verr, "marital_status", m.MaritalStatus, models.MaritalStatuses)
	oneOf(verr, "baptized", m.Baptized, models.BaptizedAnswers)
	oneOf(verr, "membership_class", m.MembershipClass, models.ClassAnswers)
	oneOf(verr, "membership_type", m.MembershipType, models.MembershipTypes)
	oneOf(verr, "age_category", m.AgeCategory, models.AgeCategories)

	if m.Email != "" {
		if addr, err := mail.ParseAddress(m.Email); err != nil || addr.Address != m.Email {
			verr.add("email", "enter a valid email address")
		}
	}

	m.DateOfBirth = parseDate(verr, "dob", in.DateOfBirth)
	m.SalvationDate = parseDate(verr, "salvation_date", in.SalvationDate)
	m.BaptismDate = parseDate(verr, "baptism_date", in.BaptismDate)
	if reg := parseDate(verr, "registration_date", in.RegistrationDate); reg != nil {
		m.RegistrationDate = *reg
	} else {
		m.RegistrationDate = truncateDay(today)
	}

	day := truncateDay(today)
	if m.RegistrationDate.After(day) {
		verr.add("registration_date", "registration date cannot be in the future")
	}
	if m.DateOfBirth != nil {
		if m.DateOfBirth.After(day) {
			verr.add("dob", "date of birth cannot be in the future")
		}
		if m.SalvationDate != nil && m.SalvationDate.Before(*m.DateOfBirth) {
			verr.add("salvation_date", "salvation date cannot be before date of birth")
		}
		if m.BaptismDate != nil && m.BaptismDate.Before(*m.DateOfBirth) {
			verr.add("baptism_date", "baptism date cannot be before date of birth")
		}
	}
	if m.SalvationDate != nil && m.BaptismDate != nil && m.BaptismDate.Before(*m.SalvationDate) {
		verr.add("baptism_date", "baptism date cannot be before salvation date")
	}
	if m.BaptismDate != nil && m.Baptized != models.AnswerYes {
		verr.add("baptism_date", "baptism date requires baptized to be Yes")
	}

	if m.DateOfBirth != nil && !m.DateOfBirth.After(m.RegistrationDate) {
		expected := AgeCategoryFor(ageAt(*m.DateOfBirth, m.RegistrationDate))
		if m.AgeCategory == "" {
			m.AgeCategory = expected
		} else if m.AgeCategory != expected {
			verr.add("age_category", "age category does not match date of birth, expected "+expected)
		}
	}
	if m.AgeCategory == "" {
		m.AgeCategory = models.AgeAdult
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return m, nil
}

// oneOf rejects a non-empty value outside allowed. Emptiness is checked by
// the required rules.
func oneOf(verr *ValidationError, field, value string, allowed []string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	verr.add(field, "select a valid choice")
}

func parseDate(verr *ValidationError, field, value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		verr.add(field, "enter a valid date (YYYY-MM-DD)")
		return nil
	}
	return &t
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
