package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"report-service/apperrors"
	"report-service/models"
)

// AuthMiddleware validates JWT bearer tokens and stores the caller's
// identity and role on the request context.
func AuthMiddleware(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "missing authorization header")
			return
		}

		tokenString := extractToken(authHeader)
		if tokenString == "" {
			abort(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "invalid authorization format")
			return
		}

		userID, role, err := validateToken(tokenString, jwtSecret)
		if err != nil {
			abort(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "invalid or expired token")
			return
		}

		c.Set("user_id", userID)
		c.Set("role", role)
		c.Next()
	}
}

// RequireSupervisor gates routes to callers with the supervisor role.
func RequireSupervisor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != models.RoleSupervisor {
			abort(c, http.StatusForbidden, apperrors.CodeForbidden, "supervisor role required")
			return
		}
		c.Next()
	}
}

// CORSMiddleware handles CORS headers.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"code": code, "message": message})
	c.Abort()
}

func extractToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func validateToken(tokenString string, secret []byte) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid token claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", "", errors.New("invalid user id in token")
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = models.RoleUser
	}
	return userID, role, nil
}
