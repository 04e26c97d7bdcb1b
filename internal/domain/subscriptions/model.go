package subscriptions

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Subscription grants a user the features of a plan. A nil EndDate is a lifetime grant.
type Subscription struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	PlanID    uint       `gorm:"not null;index" json:"plan_id"`
	Status    Status     `gorm:"type:varchar(20);not null;index" json:"status"`
	StartDate time.Time  `gorm:"not null" json:"start_date"`
	EndDate   *time.Time `gorm:"index" json:"end_date"`
	PaymentID *uint      `gorm:"index" json:"payment_id"`

	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Due reports whether an active subscription has run past its end date.
func (s *Subscription) Due(now time.Time) bool {
	return s.Status == StatusActive && s.EndDate != nil && !s.EndDate.After(now)
}
