package config

import "testing"

func TestValidateDefaults(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config must validate cleanly, got %v", errs)
	}
}

func TestValidateRepositoryURL(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://updates.example.com/repo", true},
		{"s3://bucket/prefix", true},
		{"file:///srv/repo", true},
		{"/srv/repo", true},
		{"ftp://example.com/repo", false},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.RepositoryURL = tt.url
		errs := cfg.Validate()
		if tt.ok && len(errs) != 0 {
			t.Errorf("url %q: unexpected errors %v", tt.url, errs)
		}
		if !tt.ok && len(errs) == 0 {
			t.Errorf("url %q: expected validation error", tt.url)
		}
	}
}

func TestValidateCredentialPairing(t *testing.T) {
	cfg := Default()
	cfg.Username = "alice"
	if errs := cfg.Validate(); len(errs) == 0 {
		t.Fatal("username without password must be flagged")
	}
	cfg.Password = "secret"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("paired credentials must validate, got %v", errs)
	}
}

func TestValidateClampsWorkers(t *testing.T) {
	cfg := Default()
	cfg.DownloadWorkers = 0
	cfg.Validate()
	if cfg.DownloadWorkers != 1 {
		t.Fatalf("workers clamped to %d, want 1", cfg.DownloadWorkers)
	}

	cfg.DownloadWorkers = 1000
	cfg.Validate()
	if cfg.DownloadWorkers != 32 {
		t.Fatalf("workers clamped to %d, want 32", cfg.DownloadWorkers)
	}
}

func TestValidateReportURL(t *testing.T) {
	cfg := Default()
	cfg.ReportURL = "https://example.com/progress"
	if errs := cfg.Validate(); len(errs) == 0 {
		t.Fatal("non-websocket report_url must be flagged")
	}
	cfg = Default()
	cfg.ReportURL = "wss://example.com/progress"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("wss report_url must validate, got %v", errs)
	}
}
