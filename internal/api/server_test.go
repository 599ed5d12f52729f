package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hazardwatch/internal/auth"
	"hazardwatch/internal/database"
	"hazardwatch/internal/notify"
	"hazardwatch/internal/pipeline"
	"hazardwatch/internal/services"
)

type staticState struct{ snap pipeline.Snapshot }

func (s staticState) Snapshot() pipeline.Snapshot { return s.snap }

type okNotifier struct{ sent []string }

func (n *okNotifier) SendText(_ context.Context, msg string) error {
	n.sent = append(n.sent, msg)
	return nil
}

func (n *okNotifier) SendImage(context.Context, string, string) error { return nil }

type fixture struct {
	srv      *httptest.Server
	tuning   *pipeline.TuningStore
	notifier *okNotifier
	alerts   *services.AlertService
	token    string
}

func newFixture(t *testing.T, snap pipeline.Snapshot) *fixture {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	authn, err := auth.NewAuthenticator(auth.Config{Enabled: true, Username: "admin", Password: "pw", JWTSecret: "s"})
	require.NoError(t, err)
	token, _, err := authn.Authenticate("admin", "pw")
	require.NoError(t, err)

	state := staticState{snap: snap}
	base := pipeline.DefaultTuning()
	tuning := pipeline.NewTuningStore(base)
	n := &okNotifier{}
	alerts := services.NewAlertService(db, logger)

	svc := Services{
		Health:        services.NewHealthService(state, db, logger),
		Status:        services.NewStatusService(state, nil),
		Settings:      services.NewSettingsService(db, tuning, base, logger),
		Notifications: services.NewNotificationService(notify.NewFanout(logger, nil, time.Second, notify.Channel{Name: "local", Notifier: n})),
		Auth:          services.NewAuthService(authn),
		Alerts:        alerts,
	}
	s := New(svc, authn, log.New(io.Discard, "", 0), false)
	s.MountRaw("/stream.mjpg", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("stream"))
	}))

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, tuning: tuning, notifier: n, alerts: alerts, token: token}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, pipeline.Snapshot{})

	resp, body := f.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = f.do(t, "GET", "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["name"])
	assert.NotEmpty(t, body["id"], "request id from the goa middleware")
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, pipeline.Snapshot{
		Frame:              &pipeline.Frame{Seq: 9, Timestamp: time.Now()},
		HeuristicCandidate: true,
		Episode:            1,
		Published:          true,
	})

	resp, body := f.do(t, "GET", "/api/v1/status", "", "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, float64(9), body["frame_seq"])
	assert.Equal(t, true, body["heuristic_candidate"])

	resp, _ = f.do(t, "GET", "/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSettingsEndpoints(t *testing.T) {
	f := newFixture(t, pipeline.Snapshot{})

	resp, _ := f.do(t, "PUT", "/api/v1/settings", `{"cooldown":"90s"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, pipeline.DefaultCooldown, f.tuning.Load().Cooldown)

	resp, body := f.do(t, "PUT", "/api/v1/settings", `{"cooldown":"90s"}`, f.token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 90*time.Second, f.tuning.Load().Cooldown)
	assert.Equal(t, []any{"cooldown"}, body["overridden"])

	resp, body = f.do(t, "PUT", "/api/v1/settings", `{"cooldown":"never"}`, f.token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", body["name"])

	resp, body = f.do(t, "GET", "/api/v1/settings", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	settings := body["settings"].(map[string]any)
	assert.Equal(t, "1m30s", settings["cooldown"])

	resp, _ = f.do(t, "DELETE", "/api/v1/settings/cooldown", "", f.token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pipeline.DefaultCooldown, f.tuning.Load().Cooldown)

	resp, _ = f.do(t, "DELETE", "/api/v1/settings/cooldown", "", f.token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthEndpoints(t *testing.T) {
	f := newFixture(t, pipeline.Snapshot{})

	resp, body := f.do(t, "POST", "/api/v1/auth/login", `{"username":"admin","password":"pw"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	assert.NotEmpty(t, token)

	resp, _ = f.do(t, "POST", "/api/v1/auth/login", `{"username":"admin","password":"no"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, "POST", "/api/v1/auth/login", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = f.do(t, "GET", "/api/v1/auth/status", "", token)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "admin", body["username"])

	_, body = f.do(t, "GET", "/api/v1/auth/status", "", "")
	assert.Equal(t, false, body["authenticated"])
}

func TestNotificationEndpoint(t *testing.T) {
	f := newFixture(t, pipeline.Snapshot{})

	resp, body := f.do(t, "POST", "/api/v1/notifications/test", "", f.token)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0], "test notification")
}

func TestAlertsEndpoint(t *testing.T) {
	f := newFixture(t, pipeline.Snapshot{})
	at := time.Date(2026, 7, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := f.alerts.Record(context.Background(), pipeline.Alert{
			Conditions: []pipeline.Condition{pipeline.ConditionFall},
			Episode:    uint64(i + 1),
			FrameSeq:   uint64(i),
			At:         at.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	req, err := http.NewRequest("GET", f.srv.URL+"/api/v1/alerts?limit=2&since="+at.Add(30*time.Minute).Format(time.RFC3339), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []database.AlertRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, uint64(3), list[0].Episode)
	assert.Equal(t, []string{"fall"}, list[0].Conditions)

	bad, _ := f.do(t, "GET", "/api/v1/alerts?since=yesterday", "", "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestRawMount(t *testing.T) {
	f := newFixture(t, pipeline.Snapshot{})

	resp, err := http.Get(f.srv.URL + "/stream.mjpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stream", string(data))
}
