package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	sessionCookieName = "oogiv_session"
	cookieLifetime    = 30 * 24 * time.Hour
)

type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// cookieSessions identifies browser sessions by a signed cookie carrying a random session id.
type cookieSessions struct {
	secret []byte
	secure bool
	now    func() time.Time
}

type sessionKey struct{}

func newCookieSessions(secret []byte, secure bool) cookieSessions {
	return cookieSessions{secret: secret, secure: secure, now: time.Now}
}

// issue creates a new session id and sets its cookie on w.
func (c cookieSessions) issue(w http.ResponseWriter) (string, error) {
	id := uuid.New().String()
	now := c.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(cookieLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        id,
		},
		SessionID: id,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(cookieLifetime),
	})
	return id, nil
}

// parse returns the session id carried by the cookie of r.
func (c cookieSessions) parse(r *http.Request) (string, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", err
	}

	token, err := jwt.ParseWithClaims(cookie.Value, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid session token")
	}
	if _, err := uuid.Parse(claims.SessionID); err != nil {
		return "", fmt.Errorf("invalid session id: %w", err)
	}
	return claims.SessionID, nil
}

// withSession puts the session id of the request in its context, starting a new session when the
// request carries no valid cookie.
func (m Main) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.cookies.parse(r)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) {
				m.logger.Warn("Replacing invalid session cookie", slog.String(errLoggerKey, err.Error()))
			}
			id, err = m.cookies.issue(w)
			if err != nil {
				m.logger.Error("Failed to start session", slog.String(errLoggerKey, err.Error()))
				m.writeError(w, http.StatusInternalServerError, reasonInternal, "Gagal memulai sesi")
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
	})
}

func sessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
