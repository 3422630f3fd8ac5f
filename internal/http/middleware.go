package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mkorolev/storefront/internal/domain"
)

const guestTokenCookie = "guest_cart_token"

// AuthMiddleware resolves the caller's identity. A positive X-User-ID header
// means an authenticated user (upstream gateway validates the session); any
// other caller gets a guest cart token cookie, minted on first touch.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("X-User-ID"); raw != "" {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || userID <= 0 {
				respondError(w, http.StatusUnauthorized, "unauthenticated", "invalid user id")
				return
			}
			ctx := context.WithValue(r.Context(), "user_id", userID)
			// Keep any existing guest token visible so login can merge it.
			// A malformed cookie means there is no guest cart to merge.
			if c, err := r.Cookie(guestTokenCookie); err == nil {
				if _, parseErr := uuid.Parse(c.Value); parseErr == nil {
					ctx = context.WithValue(ctx, "guest_token", c.Value)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token := ""
		if c, err := r.Cookie(guestTokenCookie); err == nil {
			if _, parseErr := uuid.Parse(c.Value); parseErr == nil {
				token = c.Value
			}
		}
		if token == "" {
			token = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     guestTokenCookie,
				Value:    token,
				Path:     "/",
				Expires:  time.Now().Add(30 * 24 * time.Hour),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := context.WithValue(r.Context(), "guest_token", token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getUserIDFromContext(ctx context.Context) int64 {
	if userID, ok := ctx.Value("user_id").(int64); ok {
		return userID
	}
	return 0
}

func getGuestTokenFromContext(ctx context.Context) string {
	if token, ok := ctx.Value("guest_token").(string); ok {
		return token
	}
	return ""
}

// ownerFromContext prefers the authenticated identity over the guest cookie.
func ownerFromContext(ctx context.Context) (domain.CartOwner, bool) {
	if userID := getUserIDFromContext(ctx); userID != 0 {
		return domain.UserOwner(userID), true
	}
	if token := getGuestTokenFromContext(ctx); token != "" {
		return domain.GuestOwner(token), true
	}
	return domain.CartOwner{}, false
}
