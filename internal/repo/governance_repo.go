package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-txsim/internal/domain"
)

// PetitionActive is the status of a newly opened petition.
const PetitionActive = "active"

// CreatePetition inserts p as an active petition with a fresh UUID.
func CreatePetition(ctx context.Context, db *gorm.DB, p *domain.Petition) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PetitionActive
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	return db.WithContext(ctx).Create(p).Error
}

// HasVoted reports whether voterID already has a vote on petitionID.
func HasVoted(ctx context.Context, db *gorm.DB, petitionID, voterID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.PetitionVote{}).
		Where("petition_id = ? AND voter_id = ?", petitionID, voterID).
		Count(&n).Error
	return n > 0, err
}

// CreateVote inserts v. A second vote by the same voter on the same petition
// violates ux_vote_petition_voter and returns ErrDuplicate.
func CreateVote(ctx context.Context, db *gorm.DB, v *domain.PetitionVote) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt = time.Now().UTC()
	return mapDuplicate(db.WithContext(ctx).Create(v).Error)
}
