package types

import (
	"time"

	"github.com/google/uuid"
)

type Comment struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProposalID uuid.UUID  `gorm:"type:uuid;not null;index;column:proposal_id" json:"proposal_id"`
	UserID     *uuid.UUID `gorm:"type:uuid;column:user_id" json:"user_id,omitempty"`
	Content    string     `gorm:"not null;column:content" json:"content"`
	CreatedAt  time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Comment) TableName() string {
	return "comment"
}
