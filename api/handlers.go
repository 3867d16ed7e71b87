package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/ewen-r/to-do-list/auth"
	"github.com/ewen-r/to-do-list/domain"
	"github.com/ewen-r/to-do-list/policy"
)

// Register wires up all routes on the provided Echo instance. recorder and
// oidc may be nil when the corresponding feature is disabled.
func Register(e *echo.Echo, lists ListService, gate Authenticator, oidc *OIDC, recorder *Recorder, logger *log.Logger) {
	e.Renderer = NewRenderer()

	e.GET("/", home(lists))
	e.GET("/lists/:list", getList(lists, logger))
	e.POST("/lists/:list/items", postItem(lists, recorder))
	e.POST("/lists/:list/delete", deleteList(lists, recorder, logger))
	e.POST("/lists/:list/prune", pruneList(lists, recorder))
	e.POST("/items/:id/done", toggleDone(lists, recorder))
	e.GET("/api/lists/:list", getListJSON(lists))

	e.GET("/login", loginForm(oidc))
	e.POST("/login", postLogin(gate))
	e.GET("/register", registerForm())
	e.POST("/register", postRegister(gate))
	e.POST("/logout", postLogout())
	e.GET("/healthz", healthz())

	if oidc != nil {
		e.GET("/auth/oidc/login", oidcLogin(oidc))
		e.GET("/auth/oidc/callback", oidcCallback(oidc, gate))
	}
}

type viewData struct {
	View        domain.ListView
	Principal   auth.Principal
	DefaultList string
}

type formData struct {
	Error       string
	OIDCEnabled bool
}

func listPath(list string) string {
	return "/lists/" + url.PathEscape(list)
}

func home(lists ListService) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, listPath(lists.DefaultList()))
	}
}

func getList(lists ListService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newViewRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		principal := currentPrincipal(c)
		fetchStart := time.Now()
		view, viewErr := lists.View(ctx, c.Param("list"), principal)
		metrics.ObserveFetch(time.Since(fetchStart))
		if viewErr != nil {
			if errors.Is(viewErr, policy.ErrUnauthenticated) {
				metrics.SetErrorStage("auth")
				err = c.Redirect(http.StatusSeeOther, "/login")
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(viewErr)
			err = c.String(http.StatusInternalServerError, "storage failure")
			return err
		}
		metrics.SetList(view.List)
		metrics.SetTasksReturned(len(view.Tasks))

		renderStart := time.Now()
		err = c.Render(http.StatusOK, "index.html", viewData{
			View:        view,
			Principal:   principal,
			DefaultList: lists.DefaultList(),
		})
		metrics.ObserveRender(time.Since(renderStart))
		if err != nil {
			metrics.SetErrorStage("render")
		}
		return err
	}
}

func postItem(lists ListService, recorder *Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal := currentPrincipal(c)
		task, err := lists.AddItem(ctx, c.Param("list"), c.FormValue("text"), principal)
		if err != nil {
			if errors.Is(err, policy.ErrUnauthenticated) {
				return c.Redirect(http.StatusSeeOther, "/login")
			}
			var invalid ValidationError
			if errors.As(err, &invalid) {
				// Nothing to add; show the list again.
				return c.Redirect(http.StatusSeeOther, listPath(lists.NormalizeListName(c.Param("list"))))
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "storage failure")
		}
		recorder.Record(domain.ChangeEvent{
			Owner:  task.Owner,
			List:   task.List,
			TaskID: task.ID,
			Type:   domain.ChangeItemAdded,
		})
		return c.Redirect(http.StatusSeeOther, listPath(task.List))
	}
}

func deleteList(lists ListService, recorder *Recorder, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal := currentPrincipal(c)
		name := lists.NormalizeListName(c.Param("list"))
		n, err := lists.DeleteList(ctx, name, principal)
		if err != nil {
			if errors.Is(err, policy.ErrProtectedList) {
				// The default list stays; treat the request as a no-op.
				logger.WithField("list", name).Debug("refused to delete the default list")
				return c.Redirect(http.StatusSeeOther, listPath(name))
			}
			if errors.Is(err, policy.ErrUnauthenticated) {
				return c.Redirect(http.StatusSeeOther, "/login")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "storage failure")
		}
		if n > 0 {
			if owner, oerr := lists.ResolveOwner(principal); oerr == nil {
				recorder.Record(domain.ChangeEvent{
					Owner: owner,
					List:  name,
					Type:  domain.ChangeListDeleted,
					Count: n,
				})
			}
		}
		return c.Redirect(http.StatusSeeOther, listPath(lists.DefaultList()))
	}
}

func pruneList(lists ListService, recorder *Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal := currentPrincipal(c)
		name := lists.NormalizeListName(c.Param("list"))
		n, err := lists.PruneList(ctx, name, principal)
		if err != nil {
			if errors.Is(err, policy.ErrUnauthenticated) {
				return c.Redirect(http.StatusSeeOther, "/login")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "storage failure")
		}
		if n > 0 {
			if owner, oerr := lists.ResolveOwner(principal); oerr == nil {
				recorder.Record(domain.ChangeEvent{
					Owner: owner,
					List:  name,
					Type:  domain.ChangeListPruned,
					Count: n,
				})
			}
		}
		return c.Redirect(http.StatusSeeOther, listPath(name))
	}
}

func toggleDone(lists ListService, recorder *Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal := currentPrincipal(c)
		done := decodeCheckbox(c.FormValue("done"))
		task, err := lists.SetDone(ctx, c.Param("id"), done, principal)
		if err != nil {
			if errors.Is(err, policy.ErrUnauthenticated) {
				return c.Redirect(http.StatusSeeOther, "/login")
			}
			var notFound NotFoundError
			if errors.As(err, &notFound) {
				return c.String(http.StatusNotFound, "no such task")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "storage failure")
		}
		recorder.Record(domain.ChangeEvent{
			Owner:  task.Owner,
			List:   task.List,
			TaskID: task.ID,
			Type:   domain.ChangeDoneSet,
		})
		return c.Redirect(http.StatusSeeOther, listPath(task.List))
	}
}

func getListJSON(lists ListService) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		view, err := lists.View(ctx, c.Param("list"), currentPrincipal(c))
		if err != nil {
			if errors.Is(err, policy.ErrUnauthenticated) {
				return c.String(http.StatusUnauthorized, "authentication required")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "storage failure")
		}
		data, err := sonic.Marshal(view)
		if err != nil {
			return c.String(http.StatusInternalServerError, "encode failure")
		}
		return c.JSONBlob(http.StatusOK, data)
	}
}

func loginForm(oidc *OIDC) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Render(http.StatusOK, "login.html", formData{OIDCEnabled: oidc != nil})
	}
}

func postLogin(gate Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		u, err := gate.Authenticate(ctx, c.FormValue("username"), c.FormValue("password"))
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				return c.Render(http.StatusUnauthorized, "login.html", formData{Error: err.Error()})
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "login failure")
		}
		if err := signIn(c, u); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "session failure")
		}
		return c.Redirect(http.StatusSeeOther, "/")
	}
}

func registerForm() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Render(http.StatusOK, "register.html", formData{})
	}
}

func postRegister(gate Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		u, err := gate.Register(ctx, c.FormValue("username"), c.FormValue("password"))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUsernameTaken):
				return c.Render(http.StatusConflict, "register.html", formData{Error: err.Error()})
			case errors.Is(err, auth.ErrEmptyCredentials):
				return c.Render(http.StatusBadRequest, "register.html", formData{Error: err.Error()})
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "registration failure")
		}
		if err := signIn(c, u); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "session failure")
		}
		return c.Redirect(http.StatusSeeOther, "/")
	}
}

func postLogout() echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := signOut(c); err != nil {
			c.Logger().Error(err)
		}
		return c.Redirect(http.StatusSeeOther, "/")
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}
