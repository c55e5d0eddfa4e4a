package config

import "time"

// Cache config accessor methods with default fallbacks.
// These methods provide safe access to configuration values
// with sensible defaults when values are not set or invalid.

// GetDownloadChunkSize returns the size of each ranged remote request with a default fallback.
func (c *Config) GetDownloadChunkSize() int64 {
	if c.Cache.DownloadChunkSize <= 0 {
		return 100 * 1024 * 1024 // Default: 100MB
	}
	return c.Cache.DownloadChunkSize
}

// GetStreamChunkSize returns the chunk size used for full-body streaming.
func (c *Config) GetStreamChunkSize() int {
	if c.Cache.StreamChunkSize <= 0 {
		return 8192 // Default: 8KB
	}
	return c.Cache.StreamChunkSize
}

// GetFetchTimeout returns the upper bound for a single remote fetch.
func (c *Config) GetFetchTimeout() time.Duration {
	if c.Cache.FetchTimeout <= 0 {
		return 10 * time.Minute
	}
	return c.Cache.FetchTimeout
}

// GetPrewarmWorkers returns the pre-warm pool size with a default fallback.
func (c *Config) GetPrewarmWorkers() int {
	if c.Cache.PrewarmWorkers <= 0 {
		return 4
	}
	return c.Cache.PrewarmWorkers
}

// GetChecksumCacheSize returns the number of memoized checksums.
func (c *Config) GetChecksumCacheSize() int {
	if c.Cache.ChecksumCacheSize <= 0 {
		return 1024
	}
	return c.Cache.ChecksumCacheSize
}

// Sync config accessor methods.

// IsSyncEnabled returns whether the periodic sync loop runs.
func (c *Config) IsSyncEnabled() bool {
	if c.Sync.Enabled == nil {
		return true // Default: enabled
	}
	return *c.Sync.Enabled
}

// GetSyncSchedule returns the cron expression driving the sync loop.
func (c *Config) GetSyncSchedule() string {
	if c.Sync.Schedule == "" {
		return "@every 60s"
	}
	return c.Sync.Schedule
}

// GetSyncRunOnStart returns whether a sync runs as soon as the worker starts.
func (c *Config) GetSyncRunOnStart() bool {
	if c.Sync.RunOnStart == nil {
		return true
	}
	return *c.Sync.RunOnStart
}

// Auth and server accessor methods.

// GetTokenDuration returns the session lifetime with a default fallback.
func (c *Config) GetTokenDuration() time.Duration {
	if c.Auth.TokenDuration <= 0 {
		return 24 * time.Hour
	}
	return c.Auth.TokenDuration
}

// IsMetricsEnabled returns whether /metrics is served.
func (c *Config) IsMetricsEnabled() bool {
	if c.Metrics.Enabled == nil {
		return true
	}
	return *c.Metrics.Enabled
}

// Documents accessor methods.

// GetOfficialTypes returns the dashboard report types in display order.
func (c *Config) GetOfficialTypes() []string {
	if len(c.Documents.OfficialTypes) == 0 {
		return DefaultOfficialTypes
	}
	return c.Documents.OfficialTypes
}

// GetTypeTitle returns the page title for a report type, or the type itself.
func (c *Config) GetTypeTitle(reportType string) string {
	if title, ok := c.Documents.Titles[reportType]; ok && title != "" {
		return title
	}
	if title, ok := DefaultTitles[reportType]; ok {
		return title
	}
	return reportType
}

// IsOfficialType reports whether reportType is listed in the dashboard types.
func (c *Config) IsOfficialType(reportType string) bool {
	for _, t := range c.GetOfficialTypes() {
		if t == reportType {
			return true
		}
	}
	return false
}

// GetRemoteRootID returns the folder the sync walk starts from.
// For S3 an empty root falls back to the configured key prefix.
func (c *Config) GetRemoteRootID() string {
	if c.Remote.RootID != "" {
		return c.Remote.RootID
	}
	if c.Remote.Backend == BackendS3 {
		return c.Remote.S3.Prefix
	}
	return ""
}
