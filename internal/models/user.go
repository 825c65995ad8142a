// internal/models/user.go
package models

// Role is the coarse permission class attached to a session.
type Role string

const (
	RoleAdmin             Role = "ADMIN"
	RoleAgency            Role = "AGENCY"
	RoleAuditor           Role = "AUDITOR"
	RoleCollectionManager Role = "COLLECTION_MANAGER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgency, RoleAuditor, RoleCollectionManager:
		return true
	}
	return false
}

// Contact holds the delivery addresses for a user.
type Contact struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Role   Role   `json:"role"`
}
