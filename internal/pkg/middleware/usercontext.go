package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/nsem-asso/backoffice/app/models"
	"github.com/nsem-asso/backoffice/internal/pkg/env"
	"github.com/nsem-asso/backoffice/internal/pkg/security"
	"github.com/nsem-asso/backoffice/internal/pkg/usercontext"
)

// Identity headers set by the upstream auth gateway. This service trusts its
// edge; it never verifies credentials itself.
const (
	HeaderUserID        = "X-User-ID"
	HeaderUserEmail     = "X-User-Email"
	HeaderUserRole      = "X-User-Role"
	HeaderAuthTimestamp = "X-Auth-Timestamp"
	HeaderAuthSignature = "X-Auth-Signature"
)

// How old a signed identity header set may be before it is rejected.
const identitySignatureMaxAge = 5 * time.Minute

// UserContextMiddleware resolves the requester identity for every request and
// stores it in Locals. Missing or malformed headers yield an anonymous
// context, never an error: public endpoints accept anonymous donors. With
// AUTH_HEADER_SECRET set, unsigned or badly signed headers also degrade to
// anonymous.
func UserContextMiddleware(c *fiber.Ctx) error {
	ctx := usercontext.UserContext{Role: models.RoleAnonymous}

	if raw := strings.TrimSpace(c.Get(HeaderUserID)); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil && id > 0 && identityHeadersTrusted(c, raw) {
			ctx.UserID = uint(id)
			ctx.IsLoggedIn = true
			ctx.Email = strings.TrimSpace(c.Get(HeaderUserEmail))
			if role := strings.TrimSpace(c.Get(HeaderUserRole)); role != "" {
				ctx.Role = role
			} else {
				ctx.Role = models.RoleDonor
			}
		}
	}

	c.Locals(usercontext.ContextKey, ctx)
	return c.Next()
}

func identityHeadersTrusted(c *fiber.Ctx, rawUserID string) bool {
	secret := env.GetEnv("AUTH_HEADER_SECRET", "")
	if secret == "" {
		return true
	}

	err := security.VerifyIdentity(
		rawUserID,
		strings.TrimSpace(c.Get(HeaderUserEmail)),
		strings.TrimSpace(c.Get(HeaderUserRole)),
		strings.TrimSpace(c.Get(HeaderAuthTimestamp)),
		strings.TrimSpace(c.Get(HeaderAuthSignature)),
		secret,
		identitySignatureMaxAge,
	)
	if err != nil {
		log.Warnf("[Middleware] Rejecting identity headers for user %s: %v", rawUserID, err)
		return false
	}
	return true
}
