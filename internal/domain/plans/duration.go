package plans

import (
	"time"

	"bookstore-backend/internal/apperr"
)

// IsFree reports whether subscribing needs no payment.
func IsFree(p *Plan) bool {
	return p != nil && !p.Price.IsPositive()
}

// EndDate returns start + DurationDays, or nil for lifetime plans.
func EndDate(p *Plan, start time.Time) *time.Time {
	if p == nil || p.IsLifetime || p.DurationDays == nil {
		return nil
	}
	end := start.AddDate(0, 0, *p.DurationDays)
	return &end
}

// Validate checks the fields a plan needs before it can be stored.
func Validate(p *Plan) error {
	if p == nil {
		return apperr.BadRequest("Plan is required")
	}
	if p.Name == "" {
		return apperr.BadRequest("Plan name is required")
	}
	if p.Price.IsNegative() {
		return apperr.BadRequest("Plan price cannot be negative")
	}
	if !p.IsLifetime && (p.DurationDays == nil || *p.DurationDays <= 0) {
		return apperr.BadRequest("durationDays is required for non-lifetime plans")
	}
	if p.IsLifetime {
		p.DurationDays = nil
	}
	return nil
}
