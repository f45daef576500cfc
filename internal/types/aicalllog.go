package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AICallLog records one call to the model service, successful or not.
type AICallLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Operation  string         `gorm:"not null;column:operation;index" json:"operation"`
	Model      string         `gorm:"column:model" json:"model"`
	ProposalID *uuid.UUID     `gorm:"type:uuid;column:proposal_id" json:"proposal_id,omitempty"`
	DurationMs int64          `gorm:"column:duration_ms" json:"duration_ms"`
	Success    bool           `gorm:"not null;column:success" json:"success"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (AICallLog) TableName() string {
	return "ai_call_log"
}
