package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims carries the authenticated client identity.
type JWTClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
}

// handleIssueToken exchanges the shared client secret for a short-lived
// bearer token used on the API and the conversation websocket.
func (r *Router) handleIssueToken(w http.ResponseWriter, req *http.Request) {
	if r.cfg.AuthClientSecret == "" || r.cfg.JWTSecret == "" {
		http.Error(w, `{"error": "auth not configured"}`, http.StatusServiceUnavailable)
		return
	}

	var body struct {
		ClientID string `json:"client_id"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.ClientID == "" || body.Secret != r.cfg.AuthClientSecret {
		http.Error(w, `{"error": "invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := r.generateJWT(body.ClientID)
	if err != nil {
		r.logger.Printf("auth: token generation failed: %v", err)
		captureError(req, err, "auth: token generation failed")
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC(),
	})
}

func (r *Router) generateJWT(clientID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(r.cfg.JWTExpiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		ClientID: clientID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// parseJWT validates a token string and returns its claims.
func (r *Router) parseJWT(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		authHeader := req.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, `{"error": "invalid authorization format"}`, http.StatusUnauthorized)
			return
		}

		if _, err := r.parseJWT(parts[1]); err != nil {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		next(w, req)
	}
}

// authorizeWS validates the websocket token, which browsers pass as a query
// parameter since they cannot set headers on websocket upgrades.
func (r *Router) authorizeWS(req *http.Request) bool {
	if r.cfg.JWTSecret == "" {
		return true // auth disabled in development
	}
	token := req.URL.Query().Get("token")
	if token == "" {
		return false
	}
	_, err := r.parseJWT(token)
	return err == nil
}
