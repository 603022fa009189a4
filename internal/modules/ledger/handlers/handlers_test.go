package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/events"
	"github.com/aristath/signald/internal/modules/engine"
	"github.com/aristath/signald/internal/modules/gates"
	"github.com/aristath/signald/internal/modules/ledger"
	"github.com/aristath/signald/internal/modules/signals"
)

// setupTestDB creates an in-memory ledger database with the full schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE decisions (
		    id TEXT PRIMARY KEY,
		    created_at TIMESTAMP NOT NULL,
		    source TEXT NOT NULL,
		    ticker TEXT NOT NULL,
		    direction TEXT NOT NULL,
		    timeframe TEXT NOT NULL,
		    decision TEXT NOT NULL,
		    decision_reason TEXT NOT NULL,
		    confluence_score REAL NOT NULL,
		    engine_version TEXT NOT NULL,
		    signal_json TEXT NOT NULL,
		    breakdown_json TEXT NOT NULL,
		    gate_results_json TEXT NOT NULL,
		    regime_json TEXT NOT NULL,
		    plan_json TEXT,
		    hypothetical_json TEXT,
		    exit_outcome_id TEXT,
		    exit_outcome_json TEXT,
		    closed_at TIMESTAMP
		);
		CREATE TABLE pending_appends (
		    id INTEGER PRIMARY KEY AUTOINCREMENT,
		    entry_id TEXT NOT NULL,
		    payload_json TEXT NOT NULL,
		    failure TEXT NOT NULL,
		    attempts INTEGER NOT NULL DEFAULT 0,
		    status TEXT NOT NULL DEFAULT 'pending',
		    created_at TIMESTAMP NOT NULL,
		    last_attempt_at TIMESTAMP
		);
	`)
	require.NoError(t, err)

	return db
}

type testEnv struct {
	router *chi.Mux
	repo   *ledger.Repository
}

func setupHandler(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	repo := ledger.NewRepository(db, zerolog.Nop())
	pending := ledger.NewPendingRepository(db, zerolog.Nop())
	recorder := ledger.NewRecorder(repo, pending, events.NewBus(), zerolog.Nop())

	h := NewHandler(repo, recorder, pending, zerolog.Nop())
	router := chi.NewRouter()
	router.Route("/api", h.RegisterRoutes)

	return &testEnv{router: router, repo: repo}
}

func seedEntry(t *testing.T, env *testEnv, id, ticker string, kind domain.DecisionKind, createdAt time.Time) {
	t.Helper()

	sig := &signals.Signal{
		Source:    "tradingview",
		Ticker:    ticker,
		Direction: domain.DirectionLong,
		Timeframe: domain.Timeframe15,
		Quality:   domain.QualityHigh,
		AIScore:   8.5,
		Price:     450.25,
		Entry:     450.25,
		Stop:      448.0,
		Target:    455.0,
		BarTime:   createdAt,
	}
	d := &engine.Decision{
		Kind:            kind,
		Reason:          "test decision",
		ConfluenceScore: 83.75,
		Breakdown: []engine.BreakdownRow{
			{Gate: gates.GateMarketConditions, Weight: 0.30, Score: 100, Weighted: 30},
		},
		GateResults: gates.GateResults{
			{Name: gates.GateMarketConditions, Passed: true, Score: 100},
		},
		EngineVersion: "default/v1",
		DecidedAt:     createdAt,
	}

	entry := ledger.NewEntry(id, createdAt, sig, d)
	require.NoError(t, env.repo.Append(entry))
}

func doRequest(env *testEnv, method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuery(t *testing.T) {
	env := setupHandler(t)
	base := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
	seedEntry(t, env, "e1", "SPY", domain.DecisionActLong, base)
	seedEntry(t, env, "e2", "QQQ", domain.DecisionWait, base.Add(time.Hour))
	seedEntry(t, env, "e3", "SPY", domain.DecisionSkip, base.Add(2*time.Hour))

	rec := doRequest(env, http.MethodGet, "/api/ledger", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []json.RawMessage `json:"entries"`
		Count   int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)

	// Ticker filter.
	rec = doRequest(env, http.MethodGet, "/api/ledger?ticker=spy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	// Decision filter.
	rec = doRequest(env, http.MethodGet, "/api/ledger?decision=wait", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	// Bad filter values are rejected.
	assert.Equal(t, http.StatusBadRequest, doRequest(env, http.MethodGet, "/api/ledger?since=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(env, http.MethodGet, "/api/ledger?decision=MAYBE", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(env, http.MethodGet, "/api/ledger?limit=-1", "").Code)
}

func TestHandleGet(t *testing.T) {
	env := setupHandler(t)
	seedEntry(t, env, "e1", "SPY", domain.DecisionActLong, time.Now().UTC())

	rec := doRequest(env, http.MethodGet, "/api/ledger/e1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entry ledger.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "e1", entry.ID)
	assert.Equal(t, domain.DecisionActLong, entry.Decision)

	assert.Equal(t, http.StatusNotFound, doRequest(env, http.MethodGet, "/api/ledger/ghost", "").Code)
}

func TestHandleExit(t *testing.T) {
	env := setupHandler(t)
	seedEntry(t, env, "e1", "SPY", domain.DecisionActLong, time.Now().UTC())

	body := `{"outcome_id":"fill-1","fill_price":454.1,"pnl":3.85,"close_reason":"target"}`

	rec := doRequest(env, http.MethodPost, "/api/ledger/e1/exit", body)
	require.Equal(t, http.StatusOK, rec.Code)

	entry, err := env.repo.Get("e1")
	require.NoError(t, err)
	require.NotNil(t, entry.Exit)
	assert.Equal(t, "fill-1", entry.Exit.OutcomeID)
	assert.Equal(t, 3.85, entry.Exit.PnL)

	// Duplicate delivery of the same outcome succeeds quietly.
	assert.Equal(t, http.StatusOK, doRequest(env, http.MethodPost, "/api/ledger/e1/exit", body).Code)

	// A different outcome against the closed entry is a conflict.
	conflict := `{"outcome_id":"fill-2","fill_price":440}`
	assert.Equal(t, http.StatusConflict, doRequest(env, http.MethodPost, "/api/ledger/e1/exit", conflict).Code)

	assert.Equal(t, http.StatusNotFound, doRequest(env, http.MethodPost, "/api/ledger/ghost/exit", body).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(env, http.MethodPost, "/api/ledger/e1/exit", `{"fill_price":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(env, http.MethodPost, "/api/ledger/e1/exit", `not json`).Code)
}

func TestHandlePending(t *testing.T) {
	env := setupHandler(t)

	rec := doRequest(env, http.MethodGet, "/api/ledger/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var counts map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Empty(t, counts)
}
