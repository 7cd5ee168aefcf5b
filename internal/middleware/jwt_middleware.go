package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"farmmarket/internal/logging"
	"farmmarket/internal/models"
	"farmmarket/internal/services"
)

// Keys under which the authenticated identity is stored in fiber.Ctx locals.
const (
	LocalUserID    = "user_id"
	LocalUsername  = "username"
	LocalRole      = "role"
	LocalSessionID = "session_id"
)

// SessionHeader carries the guest session identifier for anonymous checkout.
const SessionHeader = "X-Session-ID"

const maxSessionIDLength = 64

// AuthRequired is a Fiber middleware to check for a valid JWT token.
func AuthRequired(authService *services.AuthService, logger *zap.Logger) fiber.Handler {
	logger = logging.OrNop(logger)
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Authorization header is required",
			})
		}
		return authenticate(c, authService, logger, authHeader)
	}
}

// OptionalAuth authenticates the caller when a token is present and otherwise lets the request
// through as a guest. A guest is identified only by the X-Session-ID header.
func OptionalAuth(authService *services.AuthService, logger *zap.Logger) fiber.Handler {
	logger = logging.OrNop(logger)
	return func(c *fiber.Ctx) error {
		if sid := strings.TrimSpace(c.Get(SessionHeader)); sid != "" {
			if len(sid) > maxSessionIDLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"message": "Session id is too long",
				})
			}
			c.Locals(LocalSessionID, sid)
		}
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Next()
		}
		return authenticate(c, authService, logger, authHeader)
	}
}

// AdminOnly rejects callers without the admin role. It must run after AuthRequired.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if Role(c) != models.RoleAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"message": "Administrator role required",
				"kind":    "unauthorized",
			})
		}
		return c.Next()
	}
}

func authenticate(c *fiber.Ctx, authService *services.AuthService, logger *zap.Logger, authHeader string) error {
	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if !(len(parts) == 2 && parts[0] == "Bearer") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message": "Authorization header format must be 'Bearer <token>'",
		})
	}

	claims, err := authService.ValidateToken(parts[1])
	if err != nil {
		logger.Debug("jwt validation failed", zap.Error(err), zap.String("path", c.Path()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message": "Invalid or expired token",
			"error":   err.Error(),
		})
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message": "Invalid or expired token",
		})
	}
	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string)

	c.Locals(LocalUserID, userID)
	c.Locals(LocalUsername, username)
	c.Locals(LocalRole, models.Role(role))
	return c.Next()
}

// UserID returns the authenticated user id, or "" for guests.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// SessionID returns the guest session id, or "".
func SessionID(c *fiber.Ctx) string {
	sid, _ := c.Locals(LocalSessionID).(string)
	return sid
}

// Role returns the authenticated role, or "" for guests.
func Role(c *fiber.Ctx) models.Role {
	role, _ := c.Locals(LocalRole).(models.Role)
	return role
}

// Actor describes the caller for ownership checks in the order service.
func Actor(c *fiber.Ctx) services.Actor {
	return services.Actor{
		UserID:    UserID(c),
		SessionID: SessionID(c),
		Admin:     Role(c) == models.RoleAdmin,
	}
}
