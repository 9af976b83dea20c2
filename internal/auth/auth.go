package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/campusworks/comp-eval/internal/errors"
)

// Role identifies the visibility level of an authenticated caller
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid checks whether the role is one of the known values
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher || r == RoleAdmin
}

// Staff reports whether the role may read any student's records
func (r Role) Staff() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// Caller is the authenticated identity attached to a request. StudentID is
// only meaningful for the student role.
type Caller struct {
	Role      Role
	StudentID int64
}

// CanViewStudent reports whether the caller may read the given student's
// detail. Students see only their own record; staff see everyone.
func (c Caller) CanViewStudent(studentID int64) bool {
	if c.Role.Staff() {
		return true
	}
	return c.Role == RoleStudent && c.StudentID == studentID
}

const callerContextKey = "auth_caller"

// TokenService issues and validates session tokens
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a token service signing with the given secret
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue generates a signed session token carrying the caller's role and,
// for students, their own student identifier
func (s *TokenService) Issue(caller Caller) (string, error) {
	if !caller.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", caller.Role)
	}

	claims := jwt.MapClaims{
		"role": string(caller.Role),
		"exp":  time.Now().Add(s.ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	if caller.Role == RoleStudent {
		claims["student_id"] = caller.StudentID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// Validate parses a session token and returns the caller it identifies
func (s *TokenService) Validate(tokenString string) (Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Caller{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Caller{}, fmt.Errorf("invalid token")
	}

	roleClaim, ok := claims["role"].(string)
	if !ok {
		return Caller{}, fmt.Errorf("role not found in token")
	}
	role := Role(roleClaim)
	if !role.Valid() {
		return Caller{}, fmt.Errorf("unknown role %q in token", roleClaim)
	}

	caller := Caller{Role: role}
	if role == RoleStudent {
		// json numbers decode as float64 in MapClaims
		id, ok := claims["student_id"].(float64)
		if !ok {
			return Caller{}, fmt.Errorf("student_id not found in token")
		}
		caller.StudentID = int64(id)
	}

	return caller, nil
}

// Middleware authenticates requests via the Authorization bearer header and
// attaches the resulting caller to the request context
func (s *TokenService) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Error(apperrors.NewForbiddenError("missing authorization header"))
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			c.Error(apperrors.NewForbiddenError("authorization header must use the Bearer scheme"))
			c.Abort()
			return
		}

		caller, err := s.Validate(tokenString)
		if err != nil {
			c.Error(apperrors.NewForbiddenError("invalid or expired session token"))
			c.Abort()
			return
		}

		c.Set(callerContextKey, caller)
		c.Next()
	}
}

// RequireStaff rejects requests whose caller is not a teacher or admin
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok || !caller.Role.Staff() {
			c.Error(apperrors.NewForbiddenError("staff role required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CallerFrom retrieves the authenticated caller from the request context
func CallerFrom(c *gin.Context) (Caller, bool) {
	value, exists := c.Get(callerContextKey)
	if !exists {
		return Caller{}, false
	}
	caller, ok := value.(Caller)
	return caller, ok
}
