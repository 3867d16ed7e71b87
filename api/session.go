package api

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"github.com/ewen-r/to-do-list/auth"
	"github.com/ewen-r/to-do-list/domain"
)

const sessionName = "session"

// SessionMiddleware returns the cookie-session middleware all routes run
// behind. Session validity (signing, expiry, transport) is entirely the
// middleware's concern; handlers only ever see the bound principal.
func SessionMiddleware(secret []byte) echo.MiddlewareFunc {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return session.Middleware(store)
}

func currentPrincipal(c echo.Context) auth.Principal {
	sess, err := session.Get(sessionName, c)
	if err != nil || sess == nil {
		return auth.Principal{}
	}
	return auth.PrincipalFromSession(sess.Values)
}

func signIn(c echo.Context, u domain.User) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	auth.BindPrincipal(sess.Values, u)
	return sess.Save(c.Request(), c.Response())
}

func signOut(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return nil
	}
	auth.UnbindPrincipal(sess.Values)
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}
