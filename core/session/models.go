package session

import (
	"errors"

	"github.com/trezcool/shule/core"
)

var (
	// ErrNoSession is returned by Store.Load when nothing is persisted.
	ErrNoSession = errors.New("no persisted session")

	ErrNotAuthenticated = errors.New("not authenticated")
)

type (
	// Session is the authenticated user's identity plus bearer credential.
	// User is the opaque profile record as returned by the backend; the
	// engine never interprets its fields.
	Session struct {
		Token string                 `json:"token"`
		User  map[string]interface{} `json:"user"`
	}

	// Store persists a Session across restarts. Token and user are one
	// logical unit: Save and Clear always write or remove both together,
	// never one without the other.
	Store interface {
		Load() (Session, error)
		Save(Session) error
		Clear() error
	}
)

func (s Session) IsZero() bool {
	return s.Token == "" || s.User == nil
}

// Username returns the user's login name when the profile record carries one.
func (s Session) Username() string {
	if v, ok := s.User["username"].(string); ok {
		return v
	}
	return ""
}

// Credentials is a login request payload.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (c *Credentials) Validate() error {
	c.Username = core.CleanString(c.Username, true /* lower */)
	return core.Validate.Struct(c)
}
