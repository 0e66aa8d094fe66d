// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Caller identifies an authenticated API caller. Operator-role callers
// may use the reconciliation endpoints.
type Caller struct {
	Subject   string
	AccountID string
	Role      string
}

// authMiddleware validates bearer tokens when API_JWT_SECRET is set.
// With no secret configured the API runs open; intended for local
// development only and logged loudly at startup.
func authMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			// Health and metrics stay unauthenticated for probes and
			// scrapers.
			if r.URL.Path == "/health" || r.URL.Path == "/prometheus" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			caller, err := validateToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				log.Printf("[Auth] Rejected token: %v", err)
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			r.Header.Set("X-Caller-Subject", caller.Subject)
			r.Header.Set("X-Caller-Account", caller.AccountID)
			r.Header.Set("X-Caller-Role", caller.Role)
			next.ServeHTTP(w, r)
		})
	}
}

func validateToken(tokenString string, secret []byte) (*Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	return &Caller{
		Subject:   getClaimString(claims, "sub"),
		AccountID: getClaimString(claims, "account_id"),
		Role:      getClaimString(claims, "role"),
	}, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
