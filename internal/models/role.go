package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRole is returned for any role value outside the closed set below.
// Callers must handle it; there is no implicit fallback capability set.
var ErrInvalidRole = errors.New("invalid role")

// Role is the access role carried by a UserProfile.
type Role string

const (
	RoleMember      Role = "member"
	RoleSecretary   Role = "secretary"
	RolePastor      Role = "pastor"
	RoleBranchAdmin Role = "branch_admin"
	RoleAdmin       Role = "admin"
)

// AllRoles lists every role in ascending privilege order.
var AllRoles = []Role{RoleMember, RoleSecretary, RolePastor, RoleBranchAdmin, RoleAdmin}

var roleLabels = map[Role]string{
	RoleMember:      "Member",
	RoleSecretary:   "Secretary/Clerk",
	RolePastor:      "Pastor/Leader",
	RoleBranchAdmin: "Branch Administrator",
	RoleAdmin:       "Administrator",
}

// Capabilities is the fixed permission set derived from a role.
type Capabilities struct {
	CanRegisterMembers  bool `json:"can_register_members"`
	CanViewDirectory    bool `json:"can_view_directory"`
	CanViewFullDetails  bool `json:"can_view_full_details"`
	CanManageUsers      bool `json:"can_manage_users"`
	CanExportData       bool `json:"can_export_data"`
	CanManageAttendance bool `json:"can_manage_attendance"`
	CanManageNews       bool `json:"can_manage_news"`
	IsSystemAdmin       bool `json:"is_system_admin"`
	IsBranchAdmin       bool `json:"is_branch_admin"`
}

var capabilityTable = map[Role]Capabilities{
	RoleMember: {},
	RoleSecretary: {
		CanRegisterMembers:  true,
		CanViewDirectory:    true,
		CanExportData:       true,
		CanManageAttendance: true,
	},
	RolePastor: {
		CanRegisterMembers:  true,
		CanViewDirectory:    true,
		CanViewFullDetails:  true,
		CanExportData:       true,
		CanManageAttendance: true,
		CanManageNews:       true,
	},
	RoleBranchAdmin: {
		CanRegisterMembers:  true,
		CanViewDirectory:    true,
		CanViewFullDetails:  true,
		CanManageUsers:      true,
		CanExportData:       true,
		CanManageAttendance: true,
		CanManageNews:       true,
		IsBranchAdmin:       true,
	},
	RoleAdmin: {
		CanRegisterMembers:  true,
		CanViewDirectory:    true,
		CanViewFullDetails:  true,
		CanManageUsers:      true,
		CanExportData:       true,
		CanManageAttendance: true,
		CanManageNews:       true,
		IsSystemAdmin:       true,
	},
}

// CapabilitiesFor returns the capability set of role.
func CapabilitiesFor(role Role) (Capabilities, error) {
	caps, ok := capabilityTable[role]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %q", ErrInvalidRole, string(role))
	}
	return caps, nil
}

// ParseRole normalizes s and checks it against the closed role set.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := capabilityTable[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := capabilityTable[r]
	return ok
}

// Label is the display name shown in user management screens.
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}
