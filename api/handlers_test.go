package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/ewen-r/to-do-list/auth"
	"github.com/ewen-r/to-do-list/domain"
	"github.com/ewen-r/to-do-list/policy"
)

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }
func (notFoundErr) NotFound()     {}

type conflictErr struct{}

func (conflictErr) Error() string { return "already exists" }
func (conflictErr) Conflict()     {}

// memStore implements policy.TaskStore in memory.
type memStore struct {
	tasks []domain.Task
}

func (m *memStore) CreateTask(ctx context.Context, list, text, owner string) (domain.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Task{}, validationErr{}
	}
	t := domain.Task{ID: uuid.NewString(), List: list, Text: text, Owner: owner}
	m.tasks = append(m.tasks, t)
	return t, nil
}

type validationErr struct{}

func (validationErr) Error() string { return "invalid text: must not be empty" }
func (validationErr) InvalidInput() {}

func (m *memStore) ListTasks(ctx context.Context, list, owner string) ([]domain.Task, error) {
	out := []domain.Task{}
	for _, t := range m.tasks {
		if t.List == list && t.Owner == owner {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Done != out[j].Done {
			return !out[i].Done
		}
		return out[i].Text < out[j].Text
	})
	return out, nil
}

func (m *memStore) SetDone(ctx context.Context, owner, taskID string, done bool) (domain.Task, error) {
	for i, t := range m.tasks {
		if t.ID == taskID && t.Owner == owner {
			m.tasks[i].Done = done
			return m.tasks[i], nil
		}
	}
	return domain.Task{}, notFoundErr{}
}

func (m *memStore) DeleteList(ctx context.Context, list, owner string) (int, error) {
	kept := m.tasks[:0]
	n := 0
	for _, t := range m.tasks {
		if t.List == list && t.Owner == owner {
			n++
			continue
		}
		kept = append(kept, t)
	}
	m.tasks = kept
	return n, nil
}

func (m *memStore) PruneCompleted(ctx context.Context, list, owner string) (int, error) {
	kept := m.tasks[:0]
	n := 0
	for _, t := range m.tasks {
		if t.List == list && t.Owner == owner && t.Done {
			n++
			continue
		}
		kept = append(kept, t)
	}
	m.tasks = kept
	return n, nil
}

// memDirectory implements auth.Directory in memory.
type memDirectory struct {
	byUsername map[string]domain.User
	byExternal map[string]domain.User
}

func newMemDirectory() *memDirectory {
	return &memDirectory{byUsername: map[string]domain.User{}, byExternal: map[string]domain.User{}}
}

func (d *memDirectory) InsertLocalUser(ctx context.Context, u domain.User) error {
	if _, ok := d.byUsername[u.Username]; ok {
		return conflictErr{}
	}
	d.byUsername[u.Username] = u
	return nil
}

func (d *memDirectory) LocalUser(ctx context.Context, username string) (domain.User, error) {
	u, ok := d.byUsername[username]
	if !ok {
		return domain.User{}, notFoundErr{}
	}
	return u, nil
}

func (d *memDirectory) InsertExternalUser(ctx context.Context, u domain.User) error {
	if _, ok := d.byExternal[u.ExternalID]; ok {
		return conflictErr{}
	}
	d.byExternal[u.ExternalID] = u
	return nil
}

func (d *memDirectory) UserByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	u, ok := d.byExternal[externalID]
	if !ok {
		return domain.User{}, notFoundErr{}
	}
	return u, nil
}

func newTestServer(t *testing.T, anonymousOwner string) (*echo.Echo, *memStore) {
	t.Helper()
	store := &memStore{}
	lists := policy.New(store, "", anonymousOwner)
	gate := auth.NewGate(newMemDirectory())
	logger, _ := logrustest.NewNullLogger()

	e := echo.New()
	e.Use(SessionMiddleware([]byte("test-secret")))
	Register(e, lists, gate, nil, nil, logger)
	return e, store
}

func doForm(e *echo.Echo, method, path string, form url.Values, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doGet(e *echo.Echo, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGetListRendersTasksInOrder(t *testing.T) {
	e, store := newTestServer(t, "anonymous")
	ctx := context.Background()

	store.CreateTask(ctx, "Work", "Buy milk", "anonymous")
	bob, _ := store.CreateTask(ctx, "Work", "Call Bob", "anonymous")
	if _, err := store.SetDone(ctx, "anonymous", bob.ID, true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doGet(e, "/lists/work", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()
	milkAt := strings.Index(body, "Buy milk")
	bobAt := strings.Index(body, "Call Bob")
	if milkAt < 0 || bobAt < 0 {
		t.Fatalf("tasks missing from page:\n%s", body)
	}
	if milkAt > bobAt {
		t.Fatal("pending task must render before the completed one")
	}
	if !strings.Contains(body, "<h1>Work</h1>") {
		t.Fatal("normalized list name missing from page")
	}
}

func TestPostItemCreatesAndRedirects(t *testing.T) {
	e, store := newTestServer(t, "anonymous")

	rec := doForm(e, http.MethodPost, "/lists/work/items", url.Values{"text": {"Buy milk"}}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != "/lists/Work" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	if len(store.tasks) != 1 || store.tasks[0].List != "Work" || store.tasks[0].Owner != "anonymous" {
		t.Fatalf("unexpected store state: %+v", store.tasks)
	}
}

func TestPostItemEmptyTextIsRejectedQuietly(t *testing.T) {
	e, store := newTestServer(t, "anonymous")

	rec := doForm(e, http.MethodPost, "/lists/work/items", url.Values{"text": {"   "}}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != "/lists/Work" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	if len(store.tasks) != 0 {
		t.Fatalf("empty text must not create a task: %+v", store.tasks)
	}
}

func TestToggleDoneCheckboxConvention(t *testing.T) {
	e, store := newTestServer(t, "anonymous")
	task, _ := store.CreateTask(context.Background(), "Work", "Buy milk", "anonymous")

	// Checked box: browsers send the literal "on".
	rec := doForm(e, http.MethodPost, "/items/"+task.ID+"/done", url.Values{"done": {"on"}}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !store.tasks[0].Done {
		t.Fatal("expected done=true after 'on'")
	}

	// Unchecked box: the field is absent entirely.
	rec = doForm(e, http.MethodPost, "/items/"+task.ID+"/done", url.Values{}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if store.tasks[0].Done {
		t.Fatal("expected done=false when the field is absent")
	}

	// Any other value reads as unchecked.
	doForm(e, http.MethodPost, "/items/"+task.ID+"/done", url.Values{"done": {"on"}}, nil)
	rec = doForm(e, http.MethodPost, "/items/"+task.ID+"/done", url.Values{"done": {"true"}}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if store.tasks[0].Done {
		t.Fatal("only the literal 'on' may mean checked")
	}
}

func TestToggleDoneUnknownTask(t *testing.T) {
	e, _ := newTestServer(t, "anonymous")
	rec := doForm(e, http.MethodPost, "/items/does-not-exist/done", url.Values{"done": {"on"}}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestDeleteDefaultListIsNoop(t *testing.T) {
	e, store := newTestServer(t, "anonymous")
	if _, err := store.CreateTask(context.Background(), "Personal", "keep me", "anonymous"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doForm(e, http.MethodPost, "/lists/Personal/delete", nil, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != "/lists/Personal" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	if len(store.tasks) != 1 {
		t.Fatal("default list must keep its tasks")
	}
}

func TestDeleteNamedList(t *testing.T) {
	e, store := newTestServer(t, "anonymous")
	ctx := context.Background()
	store.CreateTask(ctx, "Work", "a", "anonymous")
	store.CreateTask(ctx, "Work", "b", "anonymous")
	store.CreateTask(ctx, "Home", "keep", "anonymous")

	rec := doForm(e, http.MethodPost, "/lists/work/delete", nil, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != "/lists/Personal" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	if len(store.tasks) != 1 || store.tasks[0].List != "Home" {
		t.Fatalf("unexpected store state: %+v", store.tasks)
	}
}

func TestPruneListRemovesOnlyCompleted(t *testing.T) {
	e, store := newTestServer(t, "anonymous")
	ctx := context.Background()
	store.CreateTask(ctx, "Work", "pending", "anonymous")
	done, _ := store.CreateTask(ctx, "Work", "done", "anonymous")
	store.SetDone(ctx, "anonymous", done.ID, true)

	rec := doForm(e, http.MethodPost, "/lists/work/prune", nil, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(store.tasks) != 1 || store.tasks[0].Text != "pending" {
		t.Fatalf("unexpected store state: %+v", store.tasks)
	}
}

func TestGetListJSON(t *testing.T) {
	e, store := newTestServer(t, "anonymous")
	ctx := context.Background()
	store.CreateTask(ctx, "Work", "Buy milk", "anonymous")
	done, _ := store.CreateTask(ctx, "Work", "Call Bob", "anonymous")
	store.SetDone(ctx, "anonymous", done.ID, true)

	rec := doGet(e, "/api/lists/work", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var view domain.ListView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.List != "Work" || len(view.Tasks) != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Tasks[0].Text != "Buy milk" || view.Tasks[1].Text != "Call Bob" {
		t.Fatalf("unexpected order: %+v", view.Tasks)
	}
}

func TestAuthRequiredRedirectsToLogin(t *testing.T) {
	e, _ := newTestServer(t, "")

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/lists/Work"},
		{http.MethodPost, "/lists/Work/items"},
		{http.MethodPost, "/lists/Work/prune"},
		{http.MethodPost, "/lists/Work/delete"},
		{http.MethodPost, "/items/x/done"},
	} {
		var rec *httptest.ResponseRecorder
		if tc.method == http.MethodGet {
			rec = doGet(e, tc.path, nil)
		} else {
			rec = doForm(e, tc.method, tc.path, url.Values{"text": {"x"}}, nil)
		}
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("%s %s: unexpected status %d", tc.method, tc.path, rec.Code)
		}
		if loc := rec.Header().Get(echo.HeaderLocation); loc != "/login" {
			t.Fatalf("%s %s: unexpected redirect %s", tc.method, tc.path, loc)
		}
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	e, store := newTestServer(t, "")

	rec := doForm(e, http.MethodPost, "/register", url.Values{"username": {"alice"}, "password": {"pw1"}}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("register status: %d, body: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie after registration")
	}

	rec = doForm(e, http.MethodPost, "/lists/work/items", url.Values{"text": {"Buy milk"}}, cookies)
	if rec.Code != http.StatusSeeOther || rec.Header().Get(echo.HeaderLocation) != "/lists/Work" {
		t.Fatalf("add item as alice failed: %d %s", rec.Code, rec.Header().Get(echo.HeaderLocation))
	}
	if len(store.tasks) != 1 || store.tasks[0].Owner == "" || store.tasks[0].Owner == "anonymous" {
		t.Fatalf("task must be scoped to the signed-in user: %+v", store.tasks)
	}

	rec = doGet(e, "/lists/work", cookies)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Buy milk") {
		t.Fatalf("alice must see her task: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "alice") {
		t.Fatal("signed-in page must show the username")
	}

	// Fresh login with the right and wrong password.
	rec = doForm(e, http.MethodPost, "/login", url.Values{"username": {"alice"}, "password": {"pw1"}}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login status: %d", rec.Code)
	}
	rec = doForm(e, http.MethodPost, "/login", url.Values{"username": {"alice"}, "password": {"wrong"}}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status: %d", rec.Code)
	}

	// Logout drops the session.
	rec = doForm(e, http.MethodPost, "/logout", nil, cookies)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("logout status: %d", rec.Code)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	e, _ := newTestServer(t, "")

	doForm(e, http.MethodPost, "/register", url.Values{"username": {"alice"}, "password": {"pw1"}}, nil)
	rec := doForm(e, http.MethodPost, "/register", url.Values{"username": {"alice"}, "password": {"pw2"}}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	e, _ := newTestServer(t, "")

	aliceRec := doForm(e, http.MethodPost, "/register", url.Values{"username": {"alice"}, "password": {"pw"}}, nil)
	alice := aliceRec.Result().Cookies()
	bobRec := doForm(e, http.MethodPost, "/register", url.Values{"username": {"bob"}, "password": {"pw"}}, nil)
	bob := bobRec.Result().Cookies()

	doForm(e, http.MethodPost, "/lists/work/items", url.Values{"text": {"alice's task"}}, alice)

	rec := doGet(e, "/lists/work", bob)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "alice") {
		t.Fatal("bob must not see alice's tasks")
	}
}

func TestHomeRedirectsToDefaultList(t *testing.T) {
	e, _ := newTestServer(t, "anonymous")
	rec := doGet(e, "/", nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get(echo.HeaderLocation) != "/lists/Personal" {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Header().Get(echo.HeaderLocation))
	}
}

func TestLoginAndRegisterPagesRender(t *testing.T) {
	e, _ := newTestServer(t, "")
	for _, path := range []string{"/login", "/register"} {
		rec := doGet(e, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: %d", path, rec.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	e, _ := newTestServer(t, "anonymous")
	rec := doGet(e, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
