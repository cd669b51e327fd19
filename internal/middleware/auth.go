package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-api/internal/handler"
	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/service/user"
	"github.com/jwalitptl/mailing-api/pkg/auth"
	apperrors "github.com/jwalitptl/mailing-api/pkg/errors"
)

const ContextActor = "actor"

type AuthMiddleware struct {
	tokens auth.JWTService
	users  user.UserServicer
}

func NewAuthMiddleware(tokens auth.JWTService, users user.UserServicer) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
	}
}

// Authenticate verifies the bearer token, loads the user it names and
// stores the resulting actor in the context. Blocked users get 403.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			return
		}

		userID, err := m.tokens.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			return
		}

		u, err := m.users.Resolve(c.Request.Context(), userID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
				return
			}
			c.Error(err)
			c.Abort()
			return
		}
		if !u.IsActive {
			c.AbortWithStatusJSON(http.StatusForbidden, handler.NewErrorResponse("account is blocked"))
			return
		}

		c.Set(ContextActor, u.Actor())
		c.Next()
	}
}

// ActorFrom returns the actor Authenticate stored.
func ActorFrom(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(ContextActor)
	if !ok {
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	return actor, ok
}

// RequireActor is ActorFrom for handlers behind Authenticate. A missing
// actor is recorded as an unauthorized error.
func RequireActor(c *gin.Context) (model.Actor, bool) {
	actor, ok := ActorFrom(c)
	if !ok {
		c.Error(apperrors.Unauthorized(nil))
	}
	return actor, ok
}
