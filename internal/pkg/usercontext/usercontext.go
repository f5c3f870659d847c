package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nsem-asso/backoffice/app/models"
)

// ContextKey is the fiber Locals slot holding the request identity.
const ContextKey = "USER_CONTEXT"

// UserContext represents the requester identity for a request. Authentication
// happens upstream; the gateway forwards the identity in trusted headers and
// this context is what the handlers consume.
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(ContextKey); ctx != nil {
		return ctx.(UserContext)
	}
	return UserContext{Role: models.RoleAnonymous, IsLoggedIn: false}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user has an admin role
func IsAdmin(c *fiber.Ctx) bool {
	role := GetUserContext(c).Role
	return role == models.RoleAdmin || role == models.RoleSuperAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
