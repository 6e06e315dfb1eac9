package models

// User is the account object the backend returns on login.
type User struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Session is the persisted client state: a bearer token and the user it belongs to.
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}
