package services

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"hazardwatch/internal/auth"
	"hazardwatch/internal/config"
	"hazardwatch/internal/database"
	"hazardwatch/internal/metrics"
	"hazardwatch/internal/middleware"
	"hazardwatch/internal/notify"
	"hazardwatch/internal/pipeline"
)

type fakeState struct {
	mu   sync.Mutex
	snap pipeline.Snapshot
}

func (f *fakeState) Snapshot() pipeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeState) publish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Published = true
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func openDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestStatus(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	state := &fakeState{snap: pipeline.Snapshot{
		Frame:            &pipeline.Frame{Seq: 42, Timestamp: at},
		PrimaryCandidate: true,
		Episode:          3,
		CooldownUntil:    at.Add(time.Minute),
		Published:        true,
	}}
	m := metrics.New()
	m.FrameRead()
	m.FrameRead()
	m.Alert()

	svc := NewStatusService(state, m)
	svc.startTime = at.Add(-90 * time.Second)
	svc.now = func() time.Time { return at }

	res, err := svc.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(42), res.FrameSeq)
	assert.True(t, res.PrimaryCandidate)
	assert.False(t, res.HeuristicCandidate)
	assert.Equal(t, uint64(3), res.Episode)
	assert.True(t, res.CooldownActive)
	require.NotNil(t, res.CooldownUntil)
	assert.Equal(t, 90, res.UptimeSeconds)
	assert.Equal(t, uint64(2), res.Counters.FramesRead)
	assert.Equal(t, uint64(1), res.Counters.Alerts)
}

func TestStatus_BeforeFirstFrame(t *testing.T) {
	svc := NewStatusService(&fakeState{}, nil)

	res, err := svc.Status(context.Background())

	require.NoError(t, err)
	assert.False(t, res.Published)
	assert.Nil(t, res.FrameTime)
	assert.Nil(t, res.CooldownUntil)
	assert.Zero(t, res.Counters)
}

func TestStateSample(t *testing.T) {
	now := time.Now()
	state := &fakeState{snap: pipeline.Snapshot{HeuristicCandidate: true, Episode: 7, CooldownUntil: now.Add(time.Second)}}

	s := StateSample(state, func() time.Time { return now })()

	assert.Equal(t, metrics.StateSample{HeuristicCandidate: true, CooldownActive: true, Episode: 7}, s)
}

func TestSettings_UpdateAndReload(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	base := pipeline.DefaultTuning()
	store := pipeline.NewTuningStore(base)
	svc := NewSettingsService(db, store, base, zap.NewNop())
	require.NoError(t, svc.Load(ctx))

	res, err := svc.Update(ctx, map[string]string{
		config.KeyCooldown:            "2m",
		config.KeyConfidenceThreshold: "0.8",
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, store.Load().Cooldown)
	assert.Equal(t, float32(0.8), store.Load().ConfidenceThreshold)
	assert.Equal(t, []string{config.KeyConfidenceThreshold, config.KeyCooldown}, res.Overridden)
	assert.Equal(t, "2m0s", res.Settings[config.KeyCooldown])

	// a restart picks the overrides up again
	fresh := pipeline.NewTuningStore(base)
	reloaded := NewSettingsService(db, fresh, base, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 2*time.Minute, fresh.Load().Cooldown)

	res, err = reloaded.Reset(ctx, config.KeyCooldown)
	require.NoError(t, err)
	assert.Equal(t, base.Cooldown, fresh.Load().Cooldown)
	assert.Equal(t, float32(0.8), fresh.Load().ConfidenceThreshold)
	assert.Equal(t, []string{config.KeyConfidenceThreshold}, res.Overridden)
}

func TestSettings_Rejects(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	base := pipeline.DefaultTuning()
	store := pipeline.NewTuningStore(base)
	svc := NewSettingsService(db, store, base, zap.NewNop())

	_, err := svc.Update(ctx, map[string]string{config.KeyCooldown: "1m", config.KeyConfidenceThreshold: "2"})
	var bad *BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, base.Cooldown, store.Load().Cooldown, "nothing applied")

	stored, err := db.ListSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored, "nothing persisted")

	_, err = svc.Update(ctx, nil)
	assert.ErrorAs(t, err, &bad)

	_, err = svc.Reset(ctx, config.KeyPrompt)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestSettings_LoadSkipsInvalid(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	require.NoError(t, db.SaveSetting(ctx, config.KeyCooldown, "forever"))
	require.NoError(t, db.SaveSetting(ctx, config.KeyMaxAttemptsPerEpisode, "2"))
	base := pipeline.DefaultTuning()
	store := pipeline.NewTuningStore(base)

	svc := NewSettingsService(db, store, base, zap.NewNop())
	require.NoError(t, svc.Load(ctx))

	assert.Equal(t, base.Cooldown, store.Load().Cooldown)
	assert.Equal(t, 2, store.Load().MaxAttemptsPerEpisode)
}

type fakeProber struct{ results []notify.ChannelResult }

func (f fakeProber) Probe(context.Context, string) []notify.ChannelResult { return f.results }

func TestNotificationTest(t *testing.T) {
	cases := []struct {
		name    string
		results []notify.ChannelResult
		success bool
		message string
	}{
		{"none enabled", []notify.ChannelResult{{Name: "telegram"}}, false, "No notification channel is enabled"},
		{"all sent", []notify.ChannelResult{{Name: "telegram", Enabled: true}, {Name: "mqtt", Enabled: true}}, true, "Test notification sent successfully"},
		{"one failed", []notify.ChannelResult{{Name: "telegram", Enabled: true, Error: "boom"}, {Name: "mqtt", Enabled: true}}, false, "Test notification failed on 1 of 2 channels"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := NewNotificationService(fakeProber{tc.results}).Test(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.success, res.Success)
			assert.Equal(t, tc.message, res.Message)
			assert.Len(t, res.Channels, len(tc.results))
		})
	}
}

func TestAuthLogin(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Config{Enabled: true, Username: "admin", Password: "secret", JWTSecret: "k"})
	require.NoError(t, err)
	svc := NewAuthService(a)
	ctx := context.Background()

	res, err := svc.Login(ctx, &LoginPayload{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Greater(t, res.ExpiresAt, time.Now().Unix())

	_, err = svc.Login(ctx, &LoginPayload{Username: "admin", Password: "wrong"})
	var unauth *UnauthorizedError
	assert.ErrorAs(t, err, &unauth)

	_, err = svc.Login(ctx, &LoginPayload{Username: "admin"})
	var bad *BadRequestError
	assert.ErrorAs(t, err, &bad)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.False(t, status.Authenticated)
}

func TestAuthStatus_WithClaims(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Config{Enabled: true, Username: "admin", Password: "secret", JWTSecret: "k"})
	require.NoError(t, err)
	token, _, err := a.Authenticate("admin", "secret")
	require.NoError(t, err)

	var status *AuthStatusResult
	h := middleware.RequireBearer(a)(httpHandlerFunc(func(ctx context.Context) {
		status, err = NewAuthService(a).Status(ctx)
	}))
	serveWithToken(h, token)

	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Authenticated)
	assert.Equal(t, "admin", *status.Username)
}

func TestAlerts_RecordAndList(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	svc := NewAlertService(db, zap.NewNop())
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	rec, err := svc.Record(ctx, pipeline.Alert{
		Conditions: []pipeline.Condition{pipeline.ConditionFire},
		Episode:    2,
		FrameSeq:   99,
		Response:   "FIRE",
		At:         at,
		ImagePath:  "./data/alert.jpg",
	})
	require.NoError(t, err)
	assert.Len(t, rec.ID, 36)

	list, err := svc.List(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"fire"}, list[0].Conditions)
	assert.Equal(t, uint64(99), list[0].FrameSeq)

	_, err = svc.List(ctx, nil, 5000)
	var bad *BadRequestError
	assert.ErrorAs(t, err, &bad)

	svc.now = func() time.Time { return at.Add(48 * time.Hour) }
	n, err := svc.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReadyz(t *testing.T) {
	ctx := context.Background()
	state := &fakeState{}
	db := &fakePinger{}
	h := NewHealthService(state, db, zap.NewNop())

	require.NoError(t, h.Healthz(ctx))

	var unavailable *UnavailableError
	assert.ErrorAs(t, h.Readyz(ctx), &unavailable, "no frame yet")

	state.publish()
	assert.NoError(t, h.Readyz(ctx))

	db.err = errors.New("locked")
	assert.ErrorAs(t, h.Readyz(ctx), &unavailable)
	db.err = nil

	h.MarkCaptureEnded()
	assert.ErrorAs(t, h.Readyz(ctx), &unavailable)
}

func TestGRPCHealth(t *testing.T) {
	state := &fakeState{}
	h := NewHealthService(state, nil, zap.NewNop())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.GRPCServer())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: PipelineServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Watch(ctx, 5*time.Millisecond)

	state.publish()
	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, time.Second, 10*time.Millisecond)

	h.MarkCaptureEnded()
	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING }, time.Second, 10*time.Millisecond)
}
