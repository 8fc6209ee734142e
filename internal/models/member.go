package models

import (
	"regexp"
	"time"
)

const (
	GenderMale        = "Male"
	GenderFemale      = "Female"
	GenderUndisclosed = "Prefer not to say"

	MaritalSingle   = "Single"
	MaritalMarried  = "Married"
	MaritalDivorced = "Divorced"
	MaritalWidowed  = "Widowed"

	AnswerYes    = "Yes"
	AnswerNo     = "No"
	AnswerNotYet = "Not Yet"

	MembershipNew       = "New"
	MembershipTransfer  = "Transfer"
	MembershipReturning = "Returning"

	AgeChild = "Mtoto"
	AgeYouth = "Kijana"
	AgeAdult = "Mtu mzima"
)

var (
	Genders         = []string{GenderMale, GenderFemale, GenderUndisclosed}
	MaritalStatuses = []string{MaritalSingle, MaritalMarried, MaritalDivorced, MaritalWidowed}
	BaptizedAnswers = []string{AnswerYes, AnswerNo}
	ClassAnswers    = []string{AnswerYes, AnswerNo, AnswerNotYet}
	MembershipTypes = []string{MembershipNew, MembershipTransfer, MembershipReturning}
	AgeCategories   = []string{AgeChild, AgeYouth, AgeAdult}
)

// TemporaryIDPrefix marks identifiers issued without a branch. They are
// replaced by a permanent identifier once the member is placed.
const TemporaryIDPrefix = "TEMP"

var (
	permanentIDPattern = regexp.MustCompile(`^[A-Z]{2,10}\d{4}\d{4}$`)
	temporaryIDPattern = regexp.MustCompile(`^TEMP\d{4}\d{6}$`)
)

// Member is a church member record. MembershipID is nil until allocated and
// never changes afterwards, except for the one-time TEMP replacement.
type Member struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	BranchID          *uint      `gorm:"index" json:"branch_id"`
	Branch            *Branch    `gorm:"foreignKey:BranchID" json:"branch,omitempty"`
	FullName          string     `gorm:"size:100;not null;index" json:"full_name"`
	Gender            string     `gorm:"size:20;not null" json:"gender"`
	AgeCategory       string     `gorm:"size:20;not null;default:Mtu mzima" json:"age_category"`
	DateOfBirth       *time.Time `gorm:"column:dob" json:"dob"`
	MaritalStatus     string     `gorm:"size:20" json:"marital_status"`
	Phone             string     `gorm:"size:15" json:"phone"`
	Email             string     `gorm:"size:255" json:"email"`
	Address           string     `gorm:"size:255;not null" json:"address"`
	SalvationDate     *time.Time `json:"salvation_date"`
	Baptized          string     `gorm:"size:5;not null" json:"baptized"`
	BaptismDate       *time.Time `json:"baptism_date"`
	MembershipClass   string     `gorm:"size:10" json:"membership_class"`
	PreviousChurch    string     `gorm:"size:100" json:"previous_church"`
	EmergencyName     string     `gorm:"size:100;not null" json:"emergency_name"`
	EmergencyRelation string     `gorm:"size:50;not null" json:"emergency_relation"`
	EmergencyPhone    string     `gorm:"size:15;not null" json:"emergency_phone"`
	MembershipType    string     `gorm:"size:20;not null" json:"membership_type"`
	RegistrationDate  time.Time  `gorm:"index;not null" json:"registration_date"`
	MembershipID      *string    `gorm:"uniqueIndex;size:20" json:"membership_id"`
	RegisteredBy      uint       `json:"registered_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Member) TableName() string { return "members" }

// HasTemporaryID reports whether the member still carries a TEMP identifier.
func (m *Member) HasTemporaryID() bool {
	return m.MembershipID != nil && IsTemporaryID(*m.MembershipID)
}

// IsTemporaryID reports whether id has the TEMP{year}{ticks} shape.
func IsTemporaryID(id string) bool {
	return temporaryIDPattern.MatchString(id)
}

// IsPermanentID reports whether id has the {code}{year}{sequence} shape.
func IsPermanentID(id string) bool {
	return permanentIDPattern.MatchString(id)
}

func (m Member) OwningBranchID() (uint, bool) {
	if m.BranchID == nil {
		return 0, false
	}
	return *m.BranchID, true
}
