package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"github.com/ewen-r/to-do-list/auth"
)

const (
	oidcStateCookie    = "oidc_state"
	oidcVerifierCookie = "oidc_verifier"
	oidcCookieMaxAge   = 10 * 60 // seconds; one handshake
)

// OIDC carries the pieces of the external-identity login flow: the
// authorization-code exchange config and the ID-token verifier. The
// handshake itself is deliberately thin; everything interesting happens in
// auth.Gate.AuthenticateOrProvision.
type OIDC struct {
	Config   *oauth2.Config
	Verifier *auth.Verifier
}

func oidcLogin(oidc *OIDC) echo.HandlerFunc {
	return func(c echo.Context) error {
		state := uuid.NewString()
		verifier := oauth2.GenerateVerifier()
		setHandshakeCookie(c, oidcStateCookie, state)
		setHandshakeCookie(c, oidcVerifierCookie, verifier)
		url := oidc.Config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
		return c.Redirect(http.StatusSeeOther, url)
	}
}

func oidcCallback(oidc *OIDC, gate Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		state, err := handshakeCookie(c, oidcStateCookie)
		if err != nil || state != c.QueryParam("state") {
			return c.String(http.StatusBadRequest, "state mismatch")
		}
		verifier, err := handshakeCookie(c, oidcVerifierCookie)
		if err != nil {
			return c.String(http.StatusBadRequest, "missing verifier")
		}
		clearHandshakeCookie(c, oidcStateCookie)
		clearHandshakeCookie(c, oidcVerifierCookie)

		code := c.QueryParam("code")
		if code == "" {
			return c.String(http.StatusBadRequest, "missing code")
		}
		token, err := oidc.Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusBadGateway, "token exchange failed")
		}
		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			return c.String(http.StatusBadGateway, "no id_token in response")
		}

		identity, err := oidc.Verifier.Verify(rawIDToken)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		u, err := gate.AuthenticateOrProvision(ctx, identity.ExternalID, identity.Username)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "provisioning failed")
		}
		if err := signIn(c, u); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "session failure")
		}
		return c.Redirect(http.StatusSeeOther, "/")
	}
}

func setHandshakeCookie(c echo.Context, name, value string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oidcCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func handshakeCookie(c echo.Context, name string) (string, error) {
	cookie, err := c.Cookie(name)
	if err != nil {
		return "", err
	}
	if cookie.Value == "" {
		return "", errors.New("empty cookie")
	}
	return cookie.Value, nil
}

func clearHandshakeCookie(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
}
