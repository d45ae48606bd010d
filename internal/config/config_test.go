package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/config"
)

func setRequired(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 8080 || cfg.RealtimeDriver != config.DriverSupabase {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.CommentEditWindow != 10*time.Minute || cfg.SearchLimit != 20 {
		t.Errorf("unexpected domain defaults: edit=%s search=%d", cfg.CommentEditWindow, cfg.SearchLimit)
	}
	if cfg.SupabaseURL != "https://proj.supabase.co" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.SupabaseURL)
	}
}

func TestLoad_DotEnvDoesNotOverrideEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9000")

	path := filepath.Join(t.TempDir(), ".env")
	content := "# local\nPORT=7000\nCACHE_TTL=30s\nREDIS_URL=\"redis://localhost:6379/0\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("env must win over .env, got port %d", cfg.Port)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("expected CACHE_TTL from .env, got %s", cfg.CacheTTL)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("expected REDIS_URL from .env, got %q", cfg.RedisURL)
	}
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	setRequired(t)

	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("expected missing .env to be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"no supabase url", map[string]string{"SUPABASE_ANON_KEY": "anon"}, true},
		{"unknown driver", map[string]string{"SUPABASE_URL": "http://x", "SUPABASE_ANON_KEY": "anon", "REALTIME_DRIVER": "kafka"}, true},
		{"postgres without database", map[string]string{"SUPABASE_URL": "http://x", "SUPABASE_ANON_KEY": "anon", "REALTIME_DRIVER": "postgres"}, true},
		{"postgres", map[string]string{"SUPABASE_URL": "http://x", "SUPABASE_ANON_KEY": "anon", "REALTIME_DRIVER": "POSTGRES", "DATABASE_URL": "postgres://db"}, false},
		{"none", map[string]string{"SUPABASE_URL": "http://x", "SUPABASE_ANON_KEY": "anon", "REALTIME_DRIVER": "none"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load("")
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
