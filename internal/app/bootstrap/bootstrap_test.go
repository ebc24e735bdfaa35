package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	healthfeature "github.com/dalemusser/identityindex/internal/app/features/health"
	"github.com/dalemusser/identityindex/internal/app/system/indexes"
	"github.com/dalemusser/identityindex/internal/app/system/timeouts"
	"github.com/dalemusser/identityindex/internal/testutil"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func validConfig() AppConfig {
	return AppConfig{
		MongoURI:            "mongodb://localhost:27017",
		MongoDatabase:       "identity",
		MongoConnectTimeout: 10 * time.Second,
	}
}

func TestValidateConfig_Accepts(t *testing.T) {
	if err := ValidateConfig(nil, validConfig(), testLogger()); err != nil {
		t.Fatalf("ValidateConfig failed: %v", err)
	}
}

func TestValidateConfig_Rejects(t *testing.T) {
	cases := map[string]func(*AppConfig){
		"bad uri":           func(c *AppConfig) { c.MongoURI = "postgres://localhost:5432" },
		"empty database":    func(c *AppConfig) { c.MongoDatabase = "" },
		"zero connect wait": func(c *AppConfig) { c.MongoConnectTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			if err := ValidateConfig(nil, cfg, testLogger()); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyTimeouts(t *testing.T) {
	defer timeouts.Reset()

	cfg := validConfig()
	cfg.TimeoutLong = 5 * time.Minute
	applyTimeouts(cfg, testLogger())

	if got := timeouts.Long(); got != 5*time.Minute {
		t.Errorf("long: got %s, want 5m", got)
	}
	if got := timeouts.Short(); got != timeouts.DefaultShort {
		t.Errorf("short: got %s, want default %s", got, timeouts.DefaultShort)
	}
}

func TestBuildHandler_Routes(t *testing.T) {
	probes := healthfeature.NewHandler(nil, testLogger())
	probes.SetReport(&indexes.Report{RunID: "abc", Database: "identity"})

	h, err := BuildHandler(nil, validConfig(), DBDeps{}, probes, testLogger())
	if err != nil {
		t.Fatalf("BuildHandler failed: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/indexes", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/indexes: expected %d, got %d", http.StatusOK, rec.Code)
	}
	var rep indexes.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.RunID != "abc" {
		t.Errorf("run id: got %q", rep.RunID)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health without a client: expected %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/indexes", strings.NewReader("{}")))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /indexes: expected %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestRunWithConfig_AppliesPlan(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	defer timeouts.Reset()

	cfg := validConfig()
	cfg.MongoURI = testutil.TestURI()
	cfg.MongoDatabase = db.Name()

	if err := RunWithConfig(ctx, nil, cfg, testLogger()); err != nil {
		t.Fatalf("RunWithConfig failed: %v", err)
	}

	rep, err := indexes.Apply(ctx, db, indexes.Plan, indexes.Options{DryRun: true})
	if err != nil {
		t.Fatalf("Apply (dry run) failed: %v", err)
	}
	for _, cr := range rep.Collections {
		for _, d := range cr.Declarations {
			if d.Outcome != indexes.OutcomeExists {
				t.Errorf("%s {%s}: outcome %q after run, want %q", cr.Collection, d.Keys, d.Outcome, indexes.OutcomeExists)
			}
		}
	}
}

func TestRunWithConfig_IndexBootTimeout(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	defer timeouts.Reset()

	cfg := validConfig()
	cfg.MongoURI = testutil.TestURI()
	cfg.MongoDatabase = db.Name()
	core := &config.CoreConfig{IndexBootTimeout: time.Nanosecond}

	err := RunWithConfig(ctx, core, cfg, testLogger())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	var se *indexes.StepError
	if !errors.As(err, &se) || se.Collection != "users" {
		t.Errorf("expected failure at users, got %v", err)
	}
	if names := testutil.CollectionNames(t, ctx, db); len(names) != 0 {
		t.Errorf("timed-out run created collections: %v", names)
	}
}

func TestShutdownTimeout(t *testing.T) {
	if got := shutdownTimeout(nil); got != defaultShutdownTimeout {
		t.Errorf("nil config: got %s, want %s", got, defaultShutdownTimeout)
	}
	core := &config.CoreConfig{}
	core.HTTP.ShutdownTimeout = 3 * time.Second
	if got := shutdownTimeout(core); got != 3*time.Second {
		t.Errorf("configured: got %s, want 3s", got)
	}
}

func TestConnectDB_Unreachable(t *testing.T) {
	cfg := validConfig()
	cfg.MongoURI = "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200"
	cfg.MongoConnectTimeout = time.Second

	if _, err := ConnectDB(t.Context(), nil, cfg, testLogger()); err == nil {
		t.Fatal("expected connect error")
	}
}
