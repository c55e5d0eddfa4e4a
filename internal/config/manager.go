package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Remote    RemoteConfig    `yaml:"remote" mapstructure:"remote"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Documents DocumentsConfig `yaml:"documents" mapstructure:"documents"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"` // Used for QR links, empty = request host
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// UserConfig is one entry of the fixed user table.
// Password is either a bcrypt hash ($2a$, $2b$...) or plaintext.
type UserConfig struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// AuthConfig represents session configuration
type AuthConfig struct {
	Users         []UserConfig  `yaml:"users" mapstructure:"users"`
	JWTSecret     string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration" mapstructure:"token_duration"`
	CookieSecure  bool          `yaml:"cookie_secure" mapstructure:"cookie_secure"`
	CookieDomain  string        `yaml:"cookie_domain" mapstructure:"cookie_domain"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite3 or postgres
	Path   string `yaml:"path" mapstructure:"path"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// CacheConfig represents the local document cache configuration
type CacheConfig struct {
	RootPath          string        `yaml:"root_path" mapstructure:"root_path"`
	DownloadChunkSize int64         `yaml:"download_chunk_size" mapstructure:"download_chunk_size"`
	StreamChunkSize   int           `yaml:"stream_chunk_size" mapstructure:"stream_chunk_size"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	PrewarmWorkers    int           `yaml:"prewarm_workers" mapstructure:"prewarm_workers"`
	ChecksumCacheSize int           `yaml:"checksum_cache_size" mapstructure:"checksum_cache_size"`
}

// RemoteConfig represents the content store configuration
type RemoteConfig struct {
	Backend string            `yaml:"backend" mapstructure:"backend"` // local, drive or s3
	RootID  string            `yaml:"root_id" mapstructure:"root_id"`
	Drive   DriveRemoteConfig `yaml:"drive" mapstructure:"drive"`
	S3      S3RemoteConfig    `yaml:"s3" mapstructure:"s3"`
	Local   LocalRemoteConfig `yaml:"local" mapstructure:"local"`
}

// DriveRemoteConfig holds Google Drive service account credentials
type DriveRemoteConfig struct {
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	CredentialsJSON string `yaml:"credentials_json" mapstructure:"credentials_json"`
}

// S3RemoteConfig holds S3-compatible storage settings
type S3RemoteConfig struct {
	Endpoint     string `yaml:"endpoint" mapstructure:"endpoint"`
	Region       string `yaml:"region" mapstructure:"region"`
	Bucket       string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey    string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey    string `yaml:"secret_key" mapstructure:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
	Prefix       string `yaml:"prefix" mapstructure:"prefix"` // Key prefix treated as the tree root
}

// LocalRemoteConfig points the local backend at a directory tree
type LocalRemoteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SyncConfig represents the periodic sync loop configuration
type SyncConfig struct {
	Enabled    *bool  `yaml:"enabled" mapstructure:"enabled"`
	Schedule   string `yaml:"schedule" mapstructure:"schedule"` // cron expression or @every <duration>
	RunOnStart *bool  `yaml:"run_on_start" mapstructure:"run_on_start"`
	Prewarm    bool   `yaml:"prewarm" mapstructure:"prewarm"`
}

// DocumentsConfig lists the report types shown on the dashboard
type DocumentsConfig struct {
	OfficialTypes []string          `yaml:"official_types" mapstructure:"official_types"`
	Titles        map[string]string `yaml:"titles" mapstructure:"titles"`
}

// LogConfig represents logging configuration with rotation support
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`               // Log file path (empty = console only)
	Level      string `yaml:"level" mapstructure:"level"`             // Log level (debug, info, warn, error)
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // Max size in MB before rotation
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // Max age in days to keep files
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // Max number of old files to keep
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // Compress old log files
}

// MetricsConfig toggles the prometheus endpoint
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled" mapstructure:"enabled"`
}

// Supported values for enumerated settings.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	BackendLocal = "local"
	BackendDrive = "drive"
	BackendS3    = "s3"
)

// DeepCopy returns a deep copy of the configuration
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	var copyCfg Config
	if err := copier.CopyWithOption(&copyCfg, c, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on mismatched types, which cannot happen for identical structs
		panic(fmt.Sprintf("config deep copy failed: %v", err))
	}

	return &copyCfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server base_url must be an absolute URL")
		}
	}

	seen := make(map[string]struct{}, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		if strings.TrimSpace(u.Username) == "" {
			return fmt.Errorf("auth user %d: username cannot be empty", i)
		}
		if u.Password == "" {
			return fmt.Errorf("auth user %s: password cannot be empty", u.Username)
		}
		if _, dup := seen[u.Username]; dup {
			return fmt.Errorf("auth user %s is defined more than once", u.Username)
		}
		seen[u.Username] = struct{}{}
	}

	if c.Auth.TokenDuration < 0 {
		return fmt.Errorf("auth token_duration cannot be negative")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database driver must be one of: %s, %s", DriverSQLite, DriverPostgres)
	}

	if c.Cache.RootPath == "" {
		return fmt.Errorf("cache root_path cannot be empty")
	}
	if c.Cache.DownloadChunkSize < 0 {
		return fmt.Errorf("cache download_chunk_size cannot be negative")
	}
	if c.Cache.StreamChunkSize < 0 {
		return fmt.Errorf("cache stream_chunk_size cannot be negative")
	}
	if c.Cache.FetchTimeout < 0 {
		return fmt.Errorf("cache fetch_timeout cannot be negative")
	}

	switch c.Remote.Backend {
	case BackendLocal:
		if c.Remote.Local.Path == "" {
			return fmt.Errorf("remote local.path is required for the local backend")
		}
	case BackendDrive:
		if c.Remote.RootID == "" {
			return fmt.Errorf("remote root_id is required for the drive backend")
		}
		if c.Remote.Drive.CredentialsFile == "" && c.Remote.Drive.CredentialsJSON == "" {
			return fmt.Errorf("remote drive credentials_file or credentials_json is required")
		}
	case BackendS3:
		if c.Remote.S3.Bucket == "" {
			return fmt.Errorf("remote s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("remote backend must be one of: %s, %s, %s", BackendLocal, BackendDrive, BackendS3)
	}

	if _, err := cron.ParseStandard(c.GetSyncSchedule()); err != nil {
		return fmt.Errorf("sync schedule %q is invalid: %w", c.Sync.Schedule, err)
	}

	for _, t := range c.Documents.OfficialTypes {
		if t == "" || strings.Contains(t, "/") {
			return fmt.Errorf("documents official type %q is invalid", t)
		}
	}

	return nil
}

// ChangeCallback represents a function called when configuration changes
type ChangeCallback func(oldConfig, newConfig *Config)

// ConfigGetter represents a function that returns the current configuration
type ConfigGetter func() *Config

// Manager manages configuration state and persistence
type Manager struct {
	current    *Config
	configFile string
	mutex      sync.RWMutex
	callbacks  []ChangeCallback
}

// NewManager creates a new configuration manager
func NewManager(config *Config, configFile string) *Manager {
	return &Manager{
		current:    config,
		configFile: configFile,
	}
}

// GetConfig returns the current configuration (thread-safe)
func (m *Manager) GetConfig() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// GetConfigGetter returns a function that provides the current configuration
func (m *Manager) GetConfigGetter() ConfigGetter {
	return m.GetConfig
}

// UpdateConfig updates the current configuration (thread-safe)
func (m *Manager) UpdateConfig(config *Config) error {
	if err := m.ValidateConfigUpdate(config); err != nil {
		return err
	}

	m.mutex.Lock()
	// Callbacks get an immutable snapshot of the old config
	var oldConfig *Config
	if m.current != nil {
		oldConfig = m.current.DeepCopy()
	}
	m.current = config
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mutex.Unlock()

	for _, callback := range callbacks {
		callback(oldConfig, config)
	}
	return nil
}

// OnConfigChange registers a callback to be called when configuration changes
func (m *Manager) OnConfigChange(callback ChangeCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ValidateConfigUpdate validates configuration updates with additional restrictions
func (m *Manager) ValidateConfigUpdate(newConfig *Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	m.mutex.RLock()
	currentConfig := m.current
	m.mutex.RUnlock()

	if currentConfig == nil {
		return nil
	}

	if newConfig.Server.Port != currentConfig.Server.Port {
		return fmt.Errorf("server port cannot be changed at runtime - requires server restart")
	}
	if newConfig.Database != currentConfig.Database {
		return fmt.Errorf("database settings cannot be changed at runtime - requires server restart")
	}
	if newConfig.Cache.RootPath != currentConfig.Cache.RootPath {
		return fmt.Errorf("cache root_path cannot be changed at runtime - requires server restart")
	}

	return nil
}

// ReloadConfig reloads configuration from file and notifies callbacks
func (m *Manager) ReloadConfig() error {
	config, err := LoadConfig(m.configFile)
	if err != nil {
		return err
	}

	return m.UpdateConfig(config)
}

// SaveConfig saves the current configuration to file
func (m *Manager) SaveConfig() error {
	m.mutex.RLock()
	config := m.current
	m.mutex.RUnlock()

	if config == nil {
		return fmt.Errorf("no configuration to save")
	}

	return SaveToFile(config, m.configFile)
}

// DefaultOfficialTypes are the report types shown on the dashboard and in the stats.
var DefaultOfficialTypes = []string{
	"ETAT_VISITE",
	"RAPPORT_CL",
	"RAPPORT_ETAT_LIEU",
	"RAPPORT_ML",
	"RECLAMATION",
	"RECOMMANDATION",
}

// DefaultTitles maps report types to their page titles.
var DefaultTitles = map[string]string{
	"RAPPORT_CL":        "CERTIFICAT DE LOCALISATION",
	"RAPPORT_ML":        "MORCELLEMENT",
	"RECOMMANDATION":    "RECOMMANDATION",
	"RECLAMATION":       "RECLAMATION",
	"RAPPORT_ETAT_LIEU": "ETAT DE LIEU",
	"ETAT_VISITE":       "ETAT DE VISITE",
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	syncEnabled := true
	runOnStart := true
	metricsEnabled := true

	titles := make(map[string]string, len(DefaultTitles))
	for k, v := range DefaultTitles {
		titles[k] = v
	}

	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 30 * time.Minute, // Large PDFs over slow links
			IdleTimeout:  5 * time.Minute,
		},
		Auth: AuthConfig{
			Users:         []UserConfig{},
			TokenDuration: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "docvault.db",
		},
		Cache: CacheConfig{
			RootPath:          "./pdf_cache",
			DownloadChunkSize: 100 * 1024 * 1024, // 100MB per ranged request
			StreamChunkSize:   8192,
			FetchTimeout:      10 * time.Minute,
			PrewarmWorkers:    4,
			ChecksumCacheSize: 1024,
		},
		Remote: RemoteConfig{
			Backend: BackendLocal,
			Local: LocalRemoteConfig{
				Path: "./documents",
			},
			S3: S3RemoteConfig{
				Region: "us-east-1",
			},
		},
		Sync: SyncConfig{
			Enabled:    &syncEnabled,
			Schedule:   "@every 60s",
			RunOnStart: &runOnStart,
		},
		Documents: DocumentsConfig{
			OfficialTypes: append([]string(nil), DefaultOfficialTypes...),
			Titles:        titles,
		},
		Log: LogConfig{
			File:       "",     // Empty = console only
			Level:      "info", // Default log level
			MaxSize:    100,    // 100MB max size
			MaxAge:     30,     // Keep for 30 days
			MaxBackups: 10,     // Keep 10 old files
			Compress:   true,   // Compress old files
		},
		Metrics: MetricsConfig{
			Enabled: &metricsEnabled,
		},
	}
}

// SaveToFile saves a configuration to a YAML file
func SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("no config file path provided")
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file holds credentials
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// envBindings maps config keys to the environment variables that override them.
// The unprefixed names are the ones the portal has always been deployed with.
var envBindings = map[string][]string{
	"auth.jwt_secret":              {"DOCVAULT_JWT_SECRET", "FLASK_SECRET"},
	"remote.root_id":               {"DOCVAULT_REMOTE_ROOT_ID", "DRIVE_ROOT_ID"},
	"remote.drive.credentials_json": {"DOCVAULT_DRIVE_CREDENTIALS_JSON", "GOOGLE_SERVICE_JSON"},
	"remote.s3.access_key":         {"DOCVAULT_S3_ACCESS_KEY"},
	"remote.s3.secret_key":         {"DOCVAULT_S3_SECRET_KEY"},
	"database.dsn":                  {"DOCVAULT_DATABASE_DSN", "DATABASE_URL"},
}

// LoadConfig loads configuration from file and merges with defaults.
// A missing config file is not an error: defaults plus environment are used.
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("error binding environment for %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyUserFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyUserFromEnv appends the single account that deployments configure through
// DOCVAULT_USER/DOCVAULT_PASSWORD (or the legacy FLASK_USER_CGEDS/FLASK_PASS_CGEDS).
func applyUserFromEnv(config *Config) {
	user := firstEnv("DOCVAULT_USER", "FLASK_USER_CGEDS")
	pass := firstEnv("DOCVAULT_PASSWORD", "FLASK_PASS_CGEDS")
	if user == "" || pass == "" {
		return
	}

	for i, u := range config.Auth.Users {
		if u.Username == user {
			config.Auth.Users[i].Password = pass
			return
		}
	}
	config.Auth.Users = append(config.Auth.Users, UserConfig{Username: user, Password: pass})
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
