package services

import (
	"errors"
	"testing"
	"time"

	"github.com/dkomics/church-portal/internal/models"
)

func TestAgeCategoryFor(t *testing.T) {
	tests := []struct {
		age      int
		expected string
	}{
		{0, models.AgeChild},
		{12, models.AgeChild},
		{13, models.AgeYouth},
		{35, models.AgeYouth},
		{36, models.AgeAdult},
		{90, models.AgeAdult},
	}
	for _, tt := range tests {
		if got := AgeCategoryFor(tt.age); got != tt.expected {
			t.Errorf("AgeCategoryFor(%d) = %q, expected %q", tt.age, got, tt.expected)
		}
	}
}

func TestAgeAt(t *testing.T) {
	dob := time.Date(2000, time.June, 15, 0, 0, 0, 0, time.UTC)
	if got := ageAt(dob, time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC)); got != 24 {
		t.Errorf("ageAt(day before birthday) = %d, expected 24", got)
	}
	if got := ageAt(dob, time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)); got != 25 {
		t.Errorf("ageAt(birthday) = %d, expected 25", got)
	}
}

func TestBuildMember_Valid(t *testing.T) {
	m, err := buildMember(validInput(), testNow)
	if err != nil {
		t.Fatalf("buildMember() error = %v", err)
	}
	if m.AgeCategory != models.AgeYouth {
		t.Errorf("AgeCategory = %q, expected derived %q", m.AgeCategory, models.AgeYouth)
	}
	if !m.RegistrationDate.Equal(time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("RegistrationDate = %v, expected today", m.RegistrationDate)
	}
	if m.DateOfBirth == nil || m.DateOfBirth.Format(dateLayout) != "1990-06-15" {
		t.Errorf("DateOfBirth = %v, expected 1990-06-15", m.DateOfBirth)
	}
	if m.MembershipID != nil {
		t.Error("buildMember() must not assign a membership id")
	}
}

func TestBuildMember_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MemberInput)
		field  string
	}{
		{"missing name", func(in *MemberInput) { in.FullName = "  " }, "full_name"},
		{"missing emergency phone", func(in *MemberInput) { in.EmergencyPhone = "" }, "emergency_phone"},
		{"unknown gender", func(in *MemberInput) { in.Gender = "Other" }, "gender"},
		{"unknown membership type", func(in *MemberInput) { in.MembershipType = "Visitor" }, "membership_type"},
		{"baptized not yet", func(in *MemberInput) { in.Baptized = models.AnswerNotYet; in.BaptismDate = "" }, "baptized"},
		{"bad email", func(in *MemberInput) { in.Email = "neema at example" }, "email"},
		{"display name email", func(in *MemberInput) { in.Email = "Neema <neema@example.com>" }, "email"},
		{"phone too long", func(in *MemberInput) { in.Phone = "0712345678901234" }, "phone"},
		{"bad date", func(in *MemberInput) { in.DateOfBirth = "15/06/1990" }, "dob"},
		{"future dob", func(in *MemberInput) { in.DateOfBirth = "2030-01-01"; in.SalvationDate = ""; in.BaptismDate = "" }, "dob"},
		{"future registration", func(in *MemberInput) { in.RegistrationDate = "2025-03-11" }, "registration_date"},
		{"salvation before birth", func(in *MemberInput) { in.SalvationDate = "1980-01-01" }, "salvation_date"},
		{"baptism before salvation", func(in *MemberInput) { in.BaptismDate = "2004-12-31" }, "baptism_date"},
		{"baptism date without baptism", func(in *MemberInput) { in.Baptized = models.AnswerNo }, "baptism_date"},
		{"age category mismatch", func(in *MemberInput) { in.AgeCategory = models.AgeChild }, "age_category"},
		{"unknown age category", func(in *MemberInput) { in.AgeCategory = "Senior" }, "age_category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			m, err := buildMember(in, testNow)
			if m != nil {
				t.Error("buildMember() returned a member for invalid input")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("buildMember() error = %v, expected *ValidationError", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("Fields = %v, expected an entry for %q", verr.Fields, tt.field)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("ValidationError should match ErrValidation")
			}
		})
	}
}

func TestBuildMember_AgeCategoryWithoutDOB(t *testing.T) {
	in := validInput()
	in.DateOfBirth = ""
	in.SalvationDate = ""
	in.BaptismDate = ""
	in.Baptized = models.AnswerNo
	in.AgeCategory = models.AgeChild

	m, err := buildMember(in, testNow)
	if err != nil {
		t.Fatalf("buildMember() error = %v", err)
	}
	if m.AgeCategory != models.AgeChild {
		t.Errorf("AgeCategory = %q, expected the supplied %q", m.AgeCategory, models.AgeChild)
	}

	in.AgeCategory = ""
	m, err = buildMember(in, testNow)
	if err != nil {
		t.Fatalf("buildMember() error = %v", err)
	}
	if m.AgeCategory != models.AgeAdult {
		t.Errorf("AgeCategory = %q, expected default %q", m.AgeCategory, models.AgeAdult)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "second", "a": "first"}}
	expected := "validation failed: a: first; b: second"
	if err.Error() != expected {
		t.Errorf("Error() = %q, expected %q", err.Error(), expected)
	}
	if (&ValidationError{}).orNil() != nil {
		t.Error("orNil() of an empty ValidationError should be nil")
	}
}
