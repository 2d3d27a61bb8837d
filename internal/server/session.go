package server

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/mailboard/internal/apperr"
)

const (
	sessionCookie = "session"
	sessionTTL    = 30 * 24 * time.Hour
)

type sessionClaims struct {
	Authenticated bool `json:"authenticated"`
	jwt.RegisteredClaims
}

func (s *Server) issueSession(now time.Time) (string, error) {
	claims := sessionClaims{
		Authenticated: true,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
}

func (s *Server) verifySession(raw string) error {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !claims.Authenticated {
		return errors.New("session is not authenticated")
	}
	return nil
}

// requireSession rejects requests without a valid session cookie.
func (s *Server) requireSession(c *fiber.Ctx) error {
	raw := c.Cookies(sessionCookie)
	if raw == "" {
		return apperr.New(apperr.NotAuthorized, "not authenticated")
	}
	if err := s.verifySession(raw); err != nil {
		return apperr.Wrap(apperr.NotAuthorized, err, "invalid session")
	}
	return c.Next()
}

type loginRequest struct {
	Pin string `json:"pin"`
}

func (s *Server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Wrap(apperr.Invalid, err, "decoding login request")
	}
	if subtle.ConstantTimeCompare([]byte(req.Pin), []byte(s.cfg.Pin)) != 1 {
		return apperr.New(apperr.NotAuthorized, "invalid PIN")
	}

	token, err := s.issueSession(time.Now())
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HTTPOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) logout(c *fiber.Ctx) error {
	c.ClearCookie(sessionCookie)
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) me(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"authenticated": true})
}
