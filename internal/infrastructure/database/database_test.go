package database

import (
	"testing"

	gormlogger "gorm.io/gorm/logger"
)

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  gormlogger.LogLevel
	}{
		{"debug", gormlogger.Info},
		{"trace", gormlogger.Info},
		{"info", gormlogger.Warn},
		{"warn", gormlogger.Warn},
		{"ERROR", gormlogger.Error},
		{"fatal", gormlogger.Error},
		{"", gormlogger.Warn},
		{"bogus", gormlogger.Warn},
	}
	for _, tt := range tests {
		if got := gormLogLevel(tt.level); got != tt.want {
			t.Errorf("gormLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"mcp_chat", `"mcp_chat"`},
		{`odd"name`, `"odd""name"`},
	}
	for _, tt := range tests {
		if got := quoteIdentifier(tt.name); got != tt.want {
			t.Errorf("quoteIdentifier(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestEnsureDatabaseExists_SkipsAdminTargets(t *testing.T) {
	// Neither case may dial anything: the admin database is never created
	// and a path-less DSN has nothing to create.
	if err := ensureDatabaseExists("postgres://user:pw@localhost:5432/postgres"); err != nil {
		t.Errorf("admin target: %v", err)
	}
	if err := ensureDatabaseExists("postgres://user:pw@localhost:5432/"); err != nil {
		t.Errorf("empty name: %v", err)
	}
}
