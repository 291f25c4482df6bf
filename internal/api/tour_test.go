package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/backend/internal/auth"
	"assetdesk/backend/internal/catalog"
	"assetdesk/backend/internal/repository"
	"assetdesk/backend/internal/services"
	"assetdesk/backend/internal/tour"
	"assetdesk/backend/pkg/models"
)

var (
	userID  = models.Identity{UserID: "alice", Email: "alice@acme.com", Role: models.RoleUser}
	adminID = models.Identity{UserID: "root", Email: "root@acme.com", Role: models.RoleAdmin}
)

type testEnv struct {
	echo  *echo.Echo
	tours *services.TourService
	who   models.Identity
}

// newTestEnv mounts the tour API behind a middleware that authenticates
// every request as env.who.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tours := services.NewTourService(catalog.Default(), repository.NewMemoryKVStore(), services.Config{
		LoginRoute:    "/login",
		PollInterval:  5 * time.Millisecond,
		TargetTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(tours.Close)

	env := &testEnv{echo: echo.New(), tours: tours, who: userID}
	env.echo.HTTPErrorHandler = ProblemErrorHandler
	g := env.echo.Group("/api/v1")
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(auth.WithIdentity(req.Context(), env.who)))
			return next(c)
		}
	})
	RegisterHandlers(g, NewServer(tours, nil))
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.echo.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T, route string) services.SessionView {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/tour/sessions", `{"route":"`+route+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view services.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotEmpty(t, view.ID)
	return view
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	view := env.createSession(t, "/my-assets")
	base := "/api/v1/tour/sessions/" + view.ID

	rec := env.do(t, http.MethodPut, base+"/anchors", `{"anchors":["[data-tour=\"my-assets-list\"]"]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, base, "")
		var v services.SessionView
		if json.Unmarshal(rec.Body.Bytes(), &v) != nil {
			return false
		}
		return v.CurrentStep != nil && v.CurrentStep.ID == "user-my-assets" && v.CurrentStep.TargetFound
	}, 2*time.Second, 5*time.Millisecond)

	rec = env.do(t, http.MethodPost, base+"/events", `{"index":0,"action":"dismiss"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var dismissed services.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dismissed))
	assert.Equal(t, tour.OutcomeDismissed, dismissed.State.LastOutcome, "response reflects the applied event")
	assert.False(t, dismissed.State.Running)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/tour/progress", "")
		var p models.Progress
		if json.Unmarshal(rec.Body.Bytes(), &p) != nil {
			return false
		}
		return p.Version == models.ProgressVersion && p.DismissedByRole[models.RoleUser] != ""
	}, 2*time.Second, 5*time.Millisecond)

	rec = env.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusNotFound, problem.Status)
	assert.Equal(t, base, problem.Instance)
}

func TestPostEvent_Validation(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/v1/tour/sessions/" + env.createSession(t, "/login").ID

	for name, body := range map[string]string{
		"missing index":  `{"action":"next"}`,
		"unknown action": `{"index":0,"action":"jump"}`,
		"unknown status": `{"index":0,"status":"paused"}`,
		"nothing to do":  `{"index":0}`,
	} {
		rec := env.do(t, http.MethodPost, base+"/events", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	rec := env.do(t, http.MethodPost, base+"/route", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartTour_RoleOverride(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/v1/tour/sessions/" + env.createSession(t, "/login").ID

	rec := env.do(t, http.MethodPost, base+"/start", `{"role":"admin"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, base+"/start", `{"role":"wizard"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, base+"/restart", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	env.who = adminID
	adminBase := "/api/v1/tour/sessions/" + env.createSession(t, "/login").ID
	rec = env.do(t, http.MethodPost, adminBase+"/start", `{"role":"support"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestListSteps(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/tour/steps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var steps []models.TourStep
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &steps))
	assert.Equal(t, catalog.Default().Steps(models.RoleUser), steps)

	rec = env.do(t, http.MethodGet, "/api/v1/tour/steps?role=PM", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &steps))
	assert.Equal(t, catalog.Default().Steps(models.RolePM), steps)

	rec = env.do(t, http.MethodGet, "/api/v1/tour/steps?role=guest", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ProblemErrorHandler
	RegisterHandlers(e.Group("/api/v1"), NewServer(nil, nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tour/progress", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStream_PushesStateAndAcceptsInbound(t *testing.T) {
	env := newTestEnv(t)
	view := env.createSession(t, "/login")
	srv := httptest.NewServer(env.echo)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/tour/sessions/" + view.ID + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	read := func() StreamMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	first := read()
	require.Equal(t, MessageState, first.Type)
	require.NotNil(t, first.Session)
	assert.Equal(t, view.ID, first.Session.ID)

	rec := env.do(t, http.MethodPost, "/api/v1/tour/sessions/"+view.ID+"/restart", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var nav *StreamMessage
	for i := 0; i < 10 && nav == nil; i++ {
		if msg := read(); msg.Type == MessageNavigate {
			nav = &msg
		}
	}
	require.NotNil(t, nav, "expected a navigate message")
	assert.Equal(t, "/my-assets", nav.Navigation.Route)

	require.NoError(t, conn.WriteJSON(StreamMessage{Type: "teleport"}))
	var errMsg *StreamMessage
	for i := 0; i < 10 && errMsg == nil; i++ {
		if msg := read(); msg.Type == MessageError {
			errMsg = &msg
		}
	}
	require.NotNil(t, errMsg)
	assert.Contains(t, errMsg.Error, "teleport")

	require.NoError(t, conn.WriteJSON(StreamMessage{Type: MessageRoute, Route: "/my-assets"}))
	require.Eventually(t, func() bool {
		v, err := env.tours.View(userID, view.ID)
		return err == nil && v.State.Running
	}, 2*time.Second, 5*time.Millisecond)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(pinger{}, "test").HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)

	rec = httptest.NewRecorder()
	NewHandler(pinger{err: errors.New("db down")}, "test").HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "db down", status.Storage)
}

func TestSpecAndSwaggerHandlers(t *testing.T) {
	rec := httptest.NewRecorder()
	SpecHandler("https://acme.okta.com/oauth2/default")(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	assert.Contains(t, rec.Body.String(), "https://acme.okta.com/oauth2/default/v1/authorize")
	assert.NotContains(t, rec.Body.String(), "{oktaIssuer}")

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	req.Host = "tour.local:8080"
	SwaggerHandler("https://acme.okta.com", "spa-client")(rec, req)
	body := rec.Body.String()
	assert.Contains(t, body, `clientId: "spa-client"`)
	assert.Contains(t, body, "http://tour.local:8080/docs/oauth2-redirect.html")
	assert.Contains(t, body, "tour:write")

	rec = httptest.NewRecorder()
	OAuth2RedirectHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/oauth2-redirect.html", nil))
	assert.Contains(t, rec.Body.String(), "swaggerUIRedirectCallback")
}
