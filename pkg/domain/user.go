package domain

// Role identifies which side of the marketplace an account belongs to.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
)

// UserSummary is the slice of account data the client keeps alongside a
// session. It is a copy of what the remote service returned at login; the
// server remains the source of truth.
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role,omitempty"`
}
