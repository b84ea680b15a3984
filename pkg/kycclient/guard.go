package kycclient

// Route paths the guard redirects to. The dashboards live under fixed
// paths written at login time.
const (
	PathLogin          = "/login"
	PathAdminDashboard = "/admin/dashboard"
	PathUserDashboard  = "/dashboard"
)

// Decide gates a route. It is evaluated fresh on every render from the
// stored session token and cached user: allowed means render, else
// redirect carries the landing path. No backend call is made.
func Decide(requiredRoles []string, token string, user *User) (allowed bool, redirect string) {
	if token == "" || user == nil {
		return false, PathLogin
	}
	for _, role := range requiredRoles {
		if user.Role == role {
			return true, ""
		}
	}
	return false, LandingPath(user.Role)
}

// LandingPath is the default page for a role.
func LandingPath(role string) string {
	switch role {
	case "admin", "reviewer":
		return PathAdminDashboard
	default:
		return PathUserDashboard
	}
}
