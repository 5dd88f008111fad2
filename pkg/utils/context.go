package utils

type ContextKey string

const (
	UserKey        ContextKey = "user"
	PermissionsKey ContextKey = "permissions"
	UserIDKey      string     = "user_id"
	RoleKey        string     = "role"
	ExpKey         string     = "exp"
)
