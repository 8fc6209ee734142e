package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/dkomics/church-portal/pkg/metrics"
	"gorm.io/gorm"
)

const (
	sequenceWidth = 4
	maxSequence   = 9999
)

// MembershipIDAllocator issues {code}{year}{seq:04d} identifiers.
//
// Concurrent registrations may read the same highest sequence. The unique
// index on members.membership_id rejects the second insert; the allocation
// then runs again with a fresh read, up to retries extra times, before
// failing with ErrDuplicateMembershipID.
type MembershipIDAllocator struct {
	db      *gorm.DB
	retries int
	now     func() time.Time
}

func NewMembershipIDAllocator(db *gorm.DB, retries int) *MembershipIDAllocator {
	if retries < 0 {
		retries = 0
	}
	return &MembershipIDAllocator{db: db, retries: retries, now: time.Now}
}

// Allocate returns the next identifier for branch and year without storing
// it. A nil branch yields a TEMP identifier. Past identifiers are only read.
func (a *MembershipIDAllocator) Allocate(ctx context.Context, branch *models.Branch, year int) (string, error) {
	if year < 1000 || year > 9999 {
		return "", &ValidationError{Fields: map[string]string{"registration_date": "year must have four digits"}}
	}
	if branch == nil {
		return a.temporaryID(year), nil
	}
	if !models.BranchCodePattern.MatchString(branch.Code) {
		return "", fmt.Errorf("branch %d has malformed code %q", branch.ID, branch.Code)
	}

	prefix := fmt.Sprintf("%s%04d", branch.Code, year)
	last, err := a.highestSequence(ctx, prefix)
	if err != nil {
		return "", err
	}
	next := last + 1
	if next > maxSequence {
		metrics.SequenceExhausted.Inc()
		logger.Error().
			Str("branch_code", branch.Code).
			Int("year", year).
			Msg("membership sequence exhausted, operator action required")
		return "", fmt.Errorf("%w: %s", ErrSequenceExhausted, prefix)
	}
	return fmt.Sprintf("%s%0*d", prefix, sequenceWidth, next), nil
}

// AllocateAndPersist allocates an identifier and hands it to persist inside
// one transaction (a savepoint when ctx already carries one). A uniqueness
// conflict rolls the attempt back and allocates again from a fresh read.
func (a *MembershipIDAllocator) AllocateAndPersist(ctx context.Context, branch *models.Branch, year int, persist func(txCtx context.Context, id string) error) (string, error) {
	var id string
	for attempt := 0; attempt <= a.retries; attempt++ {
		err := dbFrom(ctx, a.db).Transaction(func(tx *gorm.DB) error {
			txCtx := context.WithValue(ctx, txKey{}, tx)
			var err error
			id, err = a.Allocate(txCtx, branch, year)
			if err != nil {
				return err
			}
			return persist(txCtx, id)
		})
		if err == nil {
			metrics.MembershipAllocations.WithLabelValues(idKind(id)).Inc()
			return id, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", err
		}
		metrics.MembershipConflicts.WithLabelValues("retried").Inc()
		logger.Warn().
			Str("membership_id", id).
			Int("attempt", attempt+1).
			Msg("membership id conflict")
	}
	metrics.MembershipConflicts.WithLabelValues("failed").Inc()
	return "", fmt.Errorf("%w: %s", ErrDuplicateMembershipID, id)
}

// highestSequence returns the largest sequence stored under prefix, or 0.
// Sequences are zero padded, so the lexical maximum is the numeric one.
func (a *MembershipIDAllocator) highestSequence(ctx context.Context, prefix string) (int, error) {
	var ids []string
	err := dbFrom(ctx, a.db).Model(&models.Member{}).
		Where("membership_id LIKE ? AND LENGTH(membership_id) = ?", prefix+"%", len(prefix)+sequenceWidth).
		Order("membership_id DESC").
		Limit(1).
		Pluck("membership_id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	seq, err := strconv.Atoi(ids[0][len(prefix):])
	if err != nil {
		return 0, fmt.Errorf("stored membership id %q has a non-numeric sequence", ids[0])
	}
	return seq, nil
}

func (a *MembershipIDAllocator) temporaryID(year int) string {
	ticks := a.now().Nanosecond() / int(time.Microsecond)
	return fmt.Sprintf("%s%04d%06d", models.TemporaryIDPrefix, year, ticks)
}

func idKind(id string) string {
	if models.IsTemporaryID(id) {
		return "temporary"
	}
	return "permanent"
}
