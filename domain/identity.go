package domain

// Roles of the signed-in user.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Identity is the viewer the live connection acts for.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func (i Identity) IsZero() bool { return i == Identity{} }
