package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/therapy-booking/internal/appointment"
)

const defaultIssuer = "therapy-booking"

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
	ErrNoSecret     = errors.New("session secret is empty")
)

type sessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Manager signs and verifies HS256 session tokens. The subject is the user id
// and the role claim decides which appointment rules apply to the caller.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for actor. The api never exposes this; seed and simulate use it
// to act as patients and admins.
func (m *Manager) Issue(actor appointment.Actor) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrNoSecret
	}
	if !actor.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", actor.Role)
	}
	now := m.now()

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   actor.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
		Role: string(actor.Role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a bearer token into the acting user. A Manager without a secret
// accepts nothing.
func (m *Manager) Verify(token string) (appointment.Actor, error) {
	if len(m.secret) == 0 {
		return appointment.Actor{}, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(
		token,
		&sessionClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return appointment.Actor{}, ErrTokenExpired
		}
		return appointment.Actor{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return appointment.Actor{}, ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return appointment.Actor{}, ErrTokenInvalid
	}
	role := appointment.Role(claims.Role)
	if !role.Valid() {
		return appointment.Actor{}, ErrTokenInvalid
	}

	return appointment.Actor{UserID: userID, Role: role}, nil
}
