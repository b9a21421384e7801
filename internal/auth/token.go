package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the raffle endpoints need from a token: the user id plus
// the legacy document number some accounts still carry as their only key.
type Identity struct {
	UserID   string
	Document string
}

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// ExtractIdentityFromJWT parses the JWT without verifying the signature and
// pulls the 'sub' claim plus the optional 'numero_documento' claim. Used by
// the middleware when no OIDC issuer is configured and tokens arrive
// pre-verified from an upstream proxy.
func ExtractIdentityFromJWT(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, errors.New("empty token")
	}

	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, errors.New("subject claim not found in token")
	}

	identity := Identity{UserID: sub}
	if doc, ok := claims["numero_documento"].(string); ok {
		identity.Document = doc
	}
	return identity, nil
}
