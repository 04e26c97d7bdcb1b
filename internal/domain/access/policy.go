package access

import "context"

// Policy is the permission view of one authenticated request.
type Policy struct {
	UserID uint
	Role   Role
}

func (p Policy) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanActOn reports whether the caller may read or change a record owned by ownerID.
func (p Policy) CanActOn(ownerID uint) bool {
	return p.IsAdmin() || (p.UserID != 0 && p.UserID == ownerID)
}

// Scope is the owner filter for queries: nil for admins, the caller otherwise.
func (p Policy) Scope() *uint {
	if p.IsAdmin() {
		return nil
	}
	id := p.UserID
	return &id
}

type policyKey struct{}

func WithPolicy(ctx context.Context, p Policy) context.Context {
	return context.WithValue(ctx, policyKey{}, p)
}

// FromContext returns the request policy. Anonymous requests get the zero Policy.
func FromContext(ctx context.Context) Policy {
	p, _ := ctx.Value(policyKey{}).(Policy)
	return p
}
