package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dkomics/church-portal/internal/models"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type assignOptions struct {
	Username    string
	BranchCode  string
	Role        string
	MakePrimary bool
}

var assignOpts assignOptions

var assignUserBranchesCmd = &cobra.Command{
	Use:   "assign-user-branches",
	Short: "Add a branch to a user's profile, or list current assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		if assignOpts.Username == "" || assignOpts.BranchCode == "" {
			return listAssignments(cmd.Context(), db, cmd.OutOrStdout())
		}
		return assignUserBranch(cmd.Context(), db, assignOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := assignUserBranchesCmd.Flags()
	f.StringVar(&assignOpts.Username, "username", "", "user to assign")
	f.StringVar(&assignOpts.BranchCode, "branch-code", "", "branch code to add")
	f.StringVar(&assignOpts.Role, "role", "", "role to set (member, secretary, pastor, branch_admin, admin)")
	f.BoolVar(&assignOpts.MakePrimary, "make-primary", false, "make the branch the user's primary branch")
}

// assignUserBranch adds a branch to the user's profile, creating a member
// profile first when the user has none.
func assignUserBranch(ctx context.Context, db *gorm.DB, opts assignOptions, out io.Writer) error {
	var role models.Role
	if opts.Role != "" {
		r, err := models.ParseRole(opts.Role)
		if err != nil {
			return err
		}
		role = r
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("username = ?", opts.Username).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("user %q not found", opts.Username)
			}
			return err
		}
		var branch models.Branch
		if err := tx.Where("code = ?", strings.ToUpper(opts.BranchCode)).First(&branch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("branch with code %q not found", opts.BranchCode)
			}
			return err
		}

		var profile models.UserProfile
		err := tx.Where("user_id = ?", user.ID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			profile = models.UserProfile{UserID: user.ID, Role: models.RoleMember, IsActive: true}
			err = tx.Create(&profile).Error
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&profile).Association("Branches").Append(&branch); err != nil {
			return err
		}
		updates := map[string]any{}
		if opts.MakePrimary {
			updates["primary_branch_id"] = branch.ID
		}
		if role != "" {
			updates["role"] = role
		}
		if len(updates) > 0 {
			if err := tx.Model(&profile).Updates(updates).Error; err != nil {
				return err
			}
		}

		fmt.Fprintf(out, "Assigned %s to %s\n", user.Username, branch.Name)
		if role != "" {
			fmt.Fprintf(out, "Updated role to: %s\n", role)
		}
		return nil
	})
}

// listAssignments prints every profile with its role and branches.
func listAssignments(ctx context.Context, db *gorm.DB, out io.Writer) error {
	var profiles []models.UserProfile
	err := db.WithContext(ctx).Preload("Branches").Preload("PrimaryBranch").Order("user_id ASC").Find(&profiles).Error
	if err != nil {
		return err
	}
	var users []models.User
	if err := db.WithContext(ctx).Find(&users).Error; err != nil {
		return err
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}

	fmt.Fprintln(out, "Current user-branch assignments:")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, p := range profiles {
		codes := make([]string, 0, len(p.Branches))
		for _, b := range p.Branches {
			codes = append(codes, b.Code)
		}
		primary := "-"
		if p.PrimaryBranch != nil {
			primary = p.PrimaryBranch.Code
		}
		fmt.Fprintf(out, "%-20s %-14s primary=%-6s branches=%s\n",
			names[p.UserID], p.Role, primary, strings.Join(codes, ","))
	}
	return nil
}
