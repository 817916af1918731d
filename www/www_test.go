package www

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"greasetrack/config"
	"greasetrack/engine"
	"greasetrack/movement"
	"greasetrack/projection"
	"greasetrack/store"
)

type fixture struct {
	handler   http.Handler
	eng       *engine.Engine
	warehouse store.Cluster
	truck     store.Consumer
	tank      store.Tank
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "www.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	f := &fixture{
		warehouse: store.Cluster{Name: "Main Warehouse", Role: store.RoleMainWarehouse, IsReceiving: true},
		truck:     store.Consumer{UnitID: "DT-17"},
		tank:      store.Tank{Serial: "GT-100", Qty: decimal.NewFromInt(180)},
	}
	require.NoError(t, db.UpsertCluster(ctx, &f.warehouse))
	require.NoError(t, db.UpsertConsumer(ctx, &f.truck))
	require.NoError(t, db.UpsertTank(ctx, &f.tank))

	cfg := config.Defaults()
	cfg.Web.SessionSecret = "test-secret-test-secret-test-sec"
	cfg.Reconcile.Interval = 0
	f.eng = engine.New(engine.Config{AppConfig: cfg, DB: db, Log: zap.NewNop()})
	require.NoError(t, f.eng.Start(ctx))
	t.Cleanup(f.eng.Stop)

	h, stop := NewRouter(f.eng)
	t.Cleanup(stop)
	f.handler = h
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateMovementAndReadProjection(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/movements",
		fmt.Sprintf(`{"tank_id":%d,"to_consumer_id":%d,"reference_no":"WO-1","performed_by":"kim"}`, f.tank.ID, f.truck.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	assert.NotZero(t, created["movement_id"])
	assert.NotContains(t, created, "displaced_movement_id")
	assert.Contains(t, created["summary"], "GT-100")

	rec = f.do(t, http.MethodGet, "/api/tanks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tanks := decode[[]projection.TankWithLocation](t, rec)
	require.Len(t, tanks, 1)
	assert.Equal(t, "DT-17", tanks[0].Location)

	rec = f.do(t, http.MethodGet, "/api/consumers", "")
	consumers := decode[[]projection.ConsumerWithTank](t, rec)
	require.Len(t, consumers, 1)
	require.NotNil(t, consumers[0].CurrentTank)
	assert.Equal(t, "GT-100", consumers[0].CurrentTank.Serial)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/tanks/%d/movements", f.tank.ID), "")
	history := decode[[]store.Movement](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "WO-1", history[0].ReferenceNo)

	rec = f.do(t, http.MethodGet, "/api/clusters", "")
	clusters := decode[[]store.Cluster](t, rec)
	require.Len(t, clusters, 1)
	assert.Equal(t, store.RoleMainWarehouse, clusters[0].Role)
}

func TestMovementErrorMapping(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/movements", fmt.Sprintf(`{"tank_id":%d}`, f.tank.ID))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "validation", body["kind"])
	assert.Equal(t, "destination", body["field"])

	rec = f.do(t, http.MethodPost, "/api/movements", `{"tank_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/movements",
		fmt.Sprintf(`{"tank_id":%d,"to_cluster_id":%d,"expected_latest_id":999}`, f.tank.ID, f.warehouse.ID))
	assert.Equal(t, http.StatusConflict, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, "conflict", body["kind"])
	assert.NotContains(t, body, "refresh")
}

func TestOperatorSessionSuppliesPerformedBy(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/operator", `{"name":"  "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/operator", `{"name":"Rosa"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	rec = f.do(t, http.MethodGet, "/api/operator", "", cookies...)
	assert.Equal(t, "Rosa", decode[map[string]string](t, rec)["name"])

	rec = f.do(t, http.MethodPost, "/api/movements",
		fmt.Sprintf(`{"tank_id":%d,"to_cluster_id":%d}`, f.tank.ID, f.warehouse.ID), cookies...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/tanks/%d/movements", f.tank.ID), "")
	history := decode[[]store.Movement](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "Rosa", history[0].PerformedBy)
}

func TestTankMovementsLookup(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/tanks/abc/movements", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/tanks/4242/movements", "").Code)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/tanks/%d/movements", f.tank.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListMovementsNewestFirst(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/movements", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	for _, body := range []string{
		fmt.Sprintf(`{"tank_id":%d,"to_cluster_id":%d,"reference_no":"IN-1"}`, f.tank.ID, f.warehouse.ID),
		fmt.Sprintf(`{"tank_id":%d,"to_consumer_id":%d,"reference_no":"WO-2"}`, f.tank.ID, f.truck.ID),
	} {
		rec = f.do(t, http.MethodPost, "/api/movements", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/movements", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]store.Movement](t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, "WO-2", all[0].ReferenceNo)

	rec = f.do(t, http.MethodGet, "/api/movements?limit=1", "")
	latest := decode[[]store.Movement](t, rec)
	require.Len(t, latest, 1)
	assert.Equal(t, all[0].ID, latest[0].ID)
}

func TestMessagingReconnect(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/messaging/reconnect", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "none", body["backend"])
	assert.Equal(t, false, body["connected"])

	// A broken backend leaves the previous one in place.
	f.eng.AppConfig().Messaging.Backend = "kafka"
	f.eng.AppConfig().Messaging.Kafka.Brokers = nil
	rec = f.do(t, http.MethodPost, "/api/messaging/reconnect", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "no brokers")
	assert.Equal(t, "none", f.eng.MsgClient().Backend())
}

func TestReconcileHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, rec)["repaired"])

	rec = f.do(t, http.MethodGet, "/api/reconciliations?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["database"])
	assert.Equal(t, "none", health["backend"])

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "greasetrack_displacements_total")

	rec = f.do(t, http.MethodGet, "/api/audit?limit=abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, ": connected", lines.Text())

	_, err = f.eng.Move(ctx, movementTo(f))
	require.NoError(t, err)

	// The projection refresh runs inside the recorded handler, so the two
	// events may arrive in either order.
	var events []string
	for len(events) < 2 && lines.Scan() {
		if name, ok := strings.CutPrefix(lines.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.ElementsMatch(t, []string{"movement-recorded", "projection-changed"}, events)
}

func movementTo(f *fixture) movement.Intent {
	return movement.Intent{TankID: f.tank.ID, ToConsumerID: &f.truck.ID, PerformedBy: "kim"}
}
