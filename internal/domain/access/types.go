package access

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// AccessState is what a caller's subscription currently unlocks.
type AccessState string

const (
	AccessFull   AccessState = "full"
	AccessLocked AccessState = "locked"
)
