package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose config",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
		{
			name:   "debug config",
			config: Config{Level: LogLevelDebug, Format: "text"},
			want:   LogLevelDebug,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Errorf("NewLogger() error = %v", err)
				return
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelQuiet, Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("info message")
	logger.Debug("debug message")
	if buf.Len() != 0 {
		t.Errorf("quiet logger emitted output: %q", buf.String())
	}

	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("quiet logger dropped error output: %q", buf.String())
	}
}

func TestLogger_RunLifecycleLogging(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogRunStart("run-1", "orders")
	logger.LogRunComplete("run-1", "orders", "SUCCESS", 2*time.Second, nil)

	out := buf.String()
	for _, want := range []string{`"run_id":"run-1"`, `"source_id":"orders"`, `"outcome":"SUCCESS"`, "Backup run started", "Backup run completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("run lifecycle output missing %q in %q", want, out)
		}
	}

	buf.Reset()
	logger.LogRunComplete("run-2", "orders", "FAILED", time.Second, errors.New("boom"))
	if !strings.Contains(buf.String(), "Backup run failed") || !strings.Contains(buf.String(), "boom") {
		t.Errorf("failed run output missing error detail: %q", buf.String())
	}
}

func TestLogger_LogReconciliation(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	// Orphans escalate to a warning
	logger.LogReconciliation("orders", 3, 1, 2)
	if !strings.Contains(buf.String(), `"level":"warning"`) {
		t.Errorf("orphaned reconciliation should warn: %q", buf.String())
	}

	// A no-op pass stays below the normal level
	buf.Reset()
	logger.LogReconciliation("orders", 0, 0, 0)
	if buf.Len() != 0 {
		t.Errorf("empty reconciliation should log at debug only: %q", buf.String())
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{
			name: "mysql url form",
			dsn:  "backup:s3cret@tcp(db.internal:3306)/orders",
			want: "backup:***@tcp(db.internal:3306)/orders",
		},
		{
			name: "key value form",
			dsn:  "host=db.internal password=s3cret dbname=orders",
			want: "host=db.internal password=*** dbname=orders",
		},
		{
			name: "no credentials",
			dsn:  "/var/run/mysqld/mysqld.sock",
			want: "/var/run/mysqld/mysqld.sock",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeDSN(tt.dsn); got != tt.want {
				t.Errorf("SanitizeDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}
