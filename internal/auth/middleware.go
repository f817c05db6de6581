package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken  = errors.New("missing authorization token")
	errTokenFormat   = errors.New("invalid authorization format")
	errTokenType     = errors.New("invalid token type")
	errTokenSubject  = errors.New("invalid token subject")
	errTokenRejected = errors.New("invalid or expired token")
)

type accessClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Middleware lets through requests whose bearer token is a valid access token
// signed with jwtSecret. Handlers read the session user with
// UserIDFromContext.
func Middleware(jwtSecret string, next http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		userID, err := sessionSubject(parser, secret, raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errTokenFormat
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errTokenFormat
	}
	return token, nil
}

func sessionSubject(parser *jwt.Parser, secret []byte, raw string) (string, error) {
	var claims accessClaims
	token, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", errTokenRejected
	}
	if claims.Type != "access" {
		return "", errTokenType
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errTokenSubject
	}
	return claims.Subject, nil
}
