package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindcare-platform/chat-relay/internal/model"
)

var errNoToken = errors.New("no token provided")

// Claims is the JWT payload issued by the platform's auth service.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// identity is the authenticated principal attached to a connection.
type identity struct {
	userID      string
	displayName string
	role        model.Role
}

// anonymousIdentity is used when no token is presented and the deployment
// allows anonymous chatbot sessions.
func anonymousIdentity() *identity {
	return &identity{displayName: "Anonymous", role: model.RoleUser}
}

// authenticate extracts and verifies the JWT from the upgrade request. The
// token may arrive as a "token" query parameter or a bearer Authorization
// header. Returns errNoToken when neither is present.
func authenticate(r *http.Request, secret string) (*identity, error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if tokenString == "" {
		return nil, errNoToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing subject")
	}

	name := claims.Name
	if name == "" {
		name = "User"
	}

	return &identity{
		userID:      claims.Subject,
		displayName: name,
		role:        roleFromClaim(claims.Role),
	}, nil
}

func roleFromClaim(role string) model.Role {
	switch model.Role(role) {
	case model.RoleAdmin, model.RoleStaff, model.RolePsikolog:
		return model.Role(role)
	default:
		return model.RoleUser
	}
}
