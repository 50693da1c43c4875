package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token cannot be parsed or verified.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a token has expired.
	ErrTokenExpired = errors.New("token expired")
)

// Verifier authenticates raw bearer tokens into Principals. It is invoked
// once at handshake time; messages are not re-verified against it.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier over the shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Authenticate parses a JWT and returns the Principal it carries.
func (v *Verifier) Authenticate(tokenStr string) (*Principal, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(toString(claims["sub"]))
	if err != nil {
		return nil, ErrInvalidToken
	}
	if exp := toTime(claims["exp"]); !exp.IsZero() && exp.Before(time.Now()) {
		return nil, ErrTokenExpired
	}

	principal := &Principal{
		UserID:   userID,
		Username: toString(claims["username"]),
		Roles:    toStringSlice(claims["roles"]),
	}
	if ws, err := uuid.Parse(toString(claims["workspace_id"])); err == nil {
		principal.WorkspaceID = &ws
	}
	return principal, nil
}

// Helper to convert interface{} to string.
func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Helper to convert interface{} to []string.
func toStringSlice(v interface{}) []string {
	if v == nil {
		return nil
	}
	if arr, ok := v.([]interface{}); ok {
		res := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}
	if arr, ok := v.([]string); ok {
		return arr
	}
	return nil
}

// Helper to convert JWT numeric date to time.Time.
func toTime(v interface{}) time.Time {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0)
	case int64:
		return time.Unix(t, 0)
	}
	return time.Time{}
}
