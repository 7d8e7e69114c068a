package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"s3":    true,
	"file":  true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values are clamped to safe defaults. Other validation
// errors are logged as warnings but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.RepositoryURL != "" {
		u, err := url.Parse(c.RepositoryURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("repository_url %q is not a valid URL: %w", c.RepositoryURL, err))
		} else if u.Scheme != "" && !validSchemes[u.Scheme] {
			errs = append(errs, fmt.Errorf("repository_url scheme must be http, https, s3 or file, got %q", u.Scheme))
		}
	}

	if (c.Username == "") != (c.Password == "") {
		errs = append(errs, fmt.Errorf("username and password must be set together"))
	}

	if c.ReportURL != "" {
		u, err := url.Parse(c.ReportURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("report_url %q is not a valid URL: %w", c.ReportURL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("report_url scheme must be ws or wss, got %q", u.Scheme))
		}
	}

	// Clamp concurrency settings to safe range
	if c.DownloadWorkers < 1 {
		errs = append(errs, fmt.Errorf("download_workers %d is below minimum 1, clamping", c.DownloadWorkers))
		c.DownloadWorkers = 1
	} else if c.DownloadWorkers > 32 {
		errs = append(errs, fmt.Errorf("download_workers %d exceeds maximum 32, clamping", c.DownloadWorkers))
		c.DownloadWorkers = 32
	}

	if c.FileRetries < 0 {
		errs = append(errs, fmt.Errorf("file_retries %d is negative, clamping to 0", c.FileRetries))
		c.FileRetries = 0
	} else if c.FileRetries > 20 {
		errs = append(errs, fmt.Errorf("file_retries %d exceeds maximum 20, clamping", c.FileRetries))
		c.FileRetries = 20
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	// Log validation errors as warnings
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
