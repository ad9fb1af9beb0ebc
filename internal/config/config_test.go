package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "3.5")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 3.5 {
		t.Fatalf("expected 3.5, got %f", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "abc")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="abc" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidInt(t *testing.T) {
	t.Setenv("KIOKU_BATCH_MIN", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid KIOKU_BATCH_MIN")
	}
	if got := err.Error(); !contains(got, "KIOKU_BATCH_MIN") || !contains(got, "abc") {
		t.Fatalf("error should mention KIOKU_BATCH_MIN and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("KIOKU_BATCH_MIN", "abc")
	t.Setenv("KIOKU_WORKER_COUNT", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "KIOKU_BATCH_MIN") {
		t.Fatalf("error should mention KIOKU_BATCH_MIN, got: %s", got)
	}
	if !contains(got, "KIOKU_WORKER_COUNT") {
		t.Fatalf("error should mention KIOKU_WORKER_COUNT, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.PriorityMode != "quality" {
		t.Fatalf("expected default priority mode quality, got %q", cfg.PriorityMode)
	}
	if cfg.AutoApproveThreshold != 0.75 {
		t.Fatalf("expected default auto-approve threshold 0.75, got %f", cfg.AutoApproveThreshold)
	}
	if cfg.EnableOutcomeLedger {
		t.Fatal("expected outcome ledger to be disabled by default")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestLoad_InvalidPriorityMode(t *testing.T) {
	t.Setenv("KIOKU_PRIORITY_MODE", "bogus")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with an invalid KIOKU_PRIORITY_MODE")
	}
	if !contains(err.Error(), "KIOKU_PRIORITY_MODE") {
		t.Fatalf("error should mention KIOKU_PRIORITY_MODE, got: %s", err.Error())
	}
}

func TestLoad_ThresholdInvariantViolation(t *testing.T) {
	t.Setenv("KIOKU_THRESHOLD_AUTO_REJECT", "0.80")
	t.Setenv("KIOKU_THRESHOLD_REVIEW_LOWER", "0.50")
	t.Setenv("KIOKU_THRESHOLD_AUTO_APPROVE", "0.75")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when autoReject >= reviewLower")
	}
	if !contains(err.Error(), "thresholds must satisfy") {
		t.Fatalf("error should mention the threshold invariant, got: %s", err.Error())
	}
}

func TestLoad_SimilarityThresholdOrdering(t *testing.T) {
	t.Setenv("KIOKU_SIMILARITY_DUPLICATE_AT", "0.5")
	t.Setenv("KIOKU_SIMILARITY_NEAR_DUPLICATE_AT", "0.7")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when duplicateAt <= nearDuplicateAt")
	}
	if !contains(err.Error(), "KIOKU_SIMILARITY_DUPLICATE_AT") {
		t.Fatalf("error should mention KIOKU_SIMILARITY_DUPLICATE_AT, got: %s", err.Error())
	}
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_QdrantURLValidation(t *testing.T) {
	t.Run("explicit URL", func(t *testing.T) {
		qdrantURL := "https://qdrant.example.com:6334"
		t.Setenv("QDRANT_URL", qdrantURL)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != qdrantURL {
			t.Fatalf("expected QdrantURL %q, got %q", qdrantURL, cfg.QdrantURL)
		}
	})

	t.Run("empty default", func(t *testing.T) {
		// QDRANT_URL is not set; default should be empty.
		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != "" {
			t.Fatalf("expected empty QdrantURL by default, got %q", cfg.QdrantURL)
		}
	})

	t.Run("zero dims with URL set fails", func(t *testing.T) {
		t.Setenv("QDRANT_URL", "https://qdrant.example.com:6334")
		t.Setenv("QDRANT_DIMS", "0")

		_, err := Load()
		if err == nil {
			t.Fatal("expected Load() to fail when QDRANT_URL is set but QDRANT_DIMS is 0")
		}
	})
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("NOTIFY_URL", "postgres://test:test@db:5432/testdb_notify")
	t.Setenv("KIOKU_MODEL", "gpt-4o")
	t.Setenv("KIOKU_MAX_USD", "12.5")
	t.Setenv("KIOKU_REQUESTS_PER_SECOND", "25")
	t.Setenv("KIOKU_REQUEST_BURST", "10")
	t.Setenv("KIOKU_WORKER_COUNT", "4")
	t.Setenv("KIOKU_BATCH_MIN", "5")
	t.Setenv("KIOKU_BATCH_MAX", "50")
	t.Setenv("KIOKU_CONTEXT_GAP_MINUTES", "15")
	t.Setenv("OTEL_SERVICE_NAME", "kioku-test")
	t.Setenv("KIOKU_LOG_LEVEL", "debug")
	t.Setenv("KIOKU_ENABLE_OUTCOME_LEDGER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.DatabaseURL != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("expected DatabaseURL %q, got %q", "postgres://test:test@db:5432/testdb", cfg.DatabaseURL)
	}
	if cfg.NotifyURL != "postgres://test:test@db:5432/testdb_notify" {
		t.Fatalf("expected NotifyURL %q, got %q", "postgres://test:test@db:5432/testdb_notify", cfg.NotifyURL)
	}
	if cfg.Model != "gpt-4o" {
		t.Fatalf("expected Model %q, got %q", "gpt-4o", cfg.Model)
	}
	if cfg.MaxUSD != 12.5 {
		t.Fatalf("expected MaxUSD 12.5, got %f", cfg.MaxUSD)
	}
	if cfg.RequestsPerSecond != 25 {
		t.Fatalf("expected RequestsPerSecond 25, got %f", cfg.RequestsPerSecond)
	}
	if cfg.RequestBurst != 10 {
		t.Fatalf("expected RequestBurst 10, got %d", cfg.RequestBurst)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected WorkerCount 4, got %d", cfg.WorkerCount)
	}
	if cfg.BatchMin != 5 || cfg.BatchMax != 50 {
		t.Fatalf("expected batch bounds 5/50, got %d/%d", cfg.BatchMin, cfg.BatchMax)
	}
	if cfg.ContextGapMinutes != 15 {
		t.Fatalf("expected ContextGapMinutes 15, got %d", cfg.ContextGapMinutes)
	}
	if cfg.ServiceName != "kioku-test" {
		t.Fatalf("expected ServiceName %q, got %q", "kioku-test", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel %q, got %q", "debug", cfg.LogLevel)
	}
	if !cfg.EnableOutcomeLedger {
		t.Fatal("expected EnableOutcomeLedger true")
	}

	pc := cfg.Pipeline()
	if pc.MaxUSD != 12.5 {
		t.Fatalf("expected pipeline.Config.MaxUSD 12.5, got %f", pc.MaxUSD)
	}
	if pc.Batch.Gap != 15*time.Minute {
		t.Fatalf("expected pipeline.Config.Batch.Gap 15m, got %s", pc.Batch.Gap)
	}
	if pc.WorkerCount != 4 {
		t.Fatalf("expected pipeline.Config.WorkerCount 4, got %d", pc.WorkerCount)
	}
}

func TestConfig_PipelineAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	pc := cfg.Pipeline()
	if pc.WorkerCount <= 0 {
		t.Fatal("expected Pipeline() to resolve WorkerCount to a positive default")
	}
	if pc.Thresholds.AutoApprove != 0.75 {
		t.Fatalf("expected default auto-approve threshold 0.75, got %f", pc.Thresholds.AutoApprove)
	}
}
