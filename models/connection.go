package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "PENDING"
	ConnectionAccepted ConnectionStatus = "ACCEPTED"
	ConnectionRejected ConnectionStatus = "REJECTED"
)

// ConnectionOrigin records who created the request.
type ConnectionOrigin string

const (
	CreatedByUser      ConnectionOrigin = "USER"
	CreatedByAutopilot ConnectionOrigin = "AUTOPILOT"
)

// Connection is a pairwise link between two users. Rows are never deleted;
// a rejected pair keeps its history and may be requested again.
type Connection struct {
	ID                 string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	InitiatorID        string           `gorm:"index;not null" json:"initiator_id"`
	TargetID           string           `gorm:"index;not null" json:"target_id"`
	Status             ConnectionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedBy          ConnectionOrigin `gorm:"type:varchar(16);not null" json:"created_by"`
	CompatibilityScore float64          `json:"compatibility_score"`
	QualityScore       float64          `json:"quality_score"`
	Engagement         float64          `json:"engagement"`
	Synergy            float64          `json:"synergy"`
	Message            string           `gorm:"type:text" json:"message,omitempty"`

	// ActivePairKey holds PairKey(initiator, target) while the connection is
	// not REJECTED and NULL afterwards; its unique index allows one live
	// connection per unordered pair.
	ActivePairKey *string `gorm:"uniqueIndex" json:"-"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
}

func (c *Connection) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// PairKey is the order-independent key of a user pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Involves reports whether userID is either side of the connection.
func (c *Connection) Involves(userID string) bool {
	return c.InitiatorID == userID || c.TargetID == userID
}

// Counterpart returns the other side of the connection from userID.
func (c *Connection) Counterpart(userID string) string {
	if c.InitiatorID == userID {
		return c.TargetID
	}
	return c.InitiatorID
}

// Since returns the moment the connection became active, falling back to its
// creation time.
func (c *Connection) Since() time.Time {
	if c.AcceptedAt != nil {
		return *c.AcceptedAt
	}
	return c.CreatedAt
}
