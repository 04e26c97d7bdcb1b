package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"bookstore-backend/internal/domain/access"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// AuthMiddleware verifies the bearer token and attaches the caller's
// access.Policy to the request context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	jwtKey := []byte(secret)
	return func(c *gin.Context) {
		if len(jwtKey) == 0 {
			abort(c, http.StatusInternalServerError, "JWT secret not configured")
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "Authorization header missing")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			abort(c, http.StatusUnauthorized, "Bearer token malformed")
			return
		}

		token, err := jwt.Parse(strings.TrimSpace(tokenString), func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return jwtKey, nil
		})
		if err != nil || !token.Valid {
			slog.DebugContext(c.Request.Context(), "rejected token", "err", err)
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abort(c, http.StatusUnauthorized, "Invalid token claims")
			return
		}
		userIDFloat, ok := claims["user_id"].(float64)
		if !ok || userIDFloat <= 0 {
			abort(c, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		policy := access.Policy{UserID: uint(userIDFloat), Role: access.RoleCustomer}
		if role, ok := claims["role"].(string); ok && role != "" {
			policy.Role = access.Role(role)
		}
		c.Set("user_id", policy.UserID)
		c.Set("role", string(policy.Role))
		c.Request = c.Request.WithContext(access.WithPolicy(c.Request.Context(), policy))
		c.Next()
	}
}

func RequireRole(role access.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("role")
		if !exists {
			abort(c, http.StatusUnauthorized, "Role not found in token")
			return
		}

		if value != string(role) {
			abort(c, http.StatusForbidden, "Access denied")
			return
		}

		c.Next()
	}
}
