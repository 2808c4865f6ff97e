package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"github.com/nl2sql-eval/backend/internal/evaluation"
)

// SessionCookie identifies a reviewer's browser session.
const SessionCookie = "nl2sql_session"

// SessionHeader lets API clients pass a session id without cookies.
const SessionHeader = "X-Session-ID"

const stateKey = "evaluation_state"

// NewSessionStore returns the reviewer session store. storage may be nil, in
// which case sessions live in process memory.
func NewSessionStore(ttl time.Duration, storage fiber.Storage) *session.Store {
	store := session.New(session.Config{
		Expiration:     ttl,
		Storage:        storage,
		KeyLookup:      "cookie:" + SessionCookie,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
	})
	store.RegisterType(evaluation.State{})
	return store
}

func loadState(sess *session.Session) evaluation.State {
	if s, ok := sess.Get(stateKey).(evaluation.State); ok {
		return s
	}
	return evaluation.NewState()
}

// sessionID identifies the caller of a JSON endpoint for the audit journal.
// It is empty for anonymous clients.
func sessionID(c *fiber.Ctx) string {
	if id := c.Get(SessionHeader); id != "" {
		return id
	}
	return c.Cookies(SessionCookie)
}
