// Package config defines the reporting agent's configuration surface (§3)
// and two loaders for it: environment variables and a YAML file, mirroring
// the teacher's KVS-based config layer (vishal7kumar-minio
// internal/logger/config.go), which always offers both an env-var path and a
// structured-file path for the same settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// PersonDataCollectionPolicy controls which fields of Config.Person, if any,
// are attached to outgoing reports (§3).
type PersonDataCollectionPolicy string

const (
	PersonDataNone     PersonDataCollectionPolicy = "none"
	PersonDataID       PersonDataCollectionPolicy = "id"
	PersonDataUsername PersonDataCollectionPolicy = "username"
	PersonDataEmail    PersonDataCollectionPolicy = "email"
	PersonDataAll      PersonDataCollectionPolicy = "all"
)

// IPAddressCollectionPolicy controls how the caller's IP is recorded, if at
// all (§3).
type IPAddressCollectionPolicy string

const (
	IPCollectFull      IPAddressCollectionPolicy = "full"
	IPCollectAnonymize IPAddressCollectionPolicy = "anonymize"
	IPCollectNone      IPAddressCollectionPolicy = "none"
)

// Person identifies the end user a report should be associated with.
type Person struct {
	ID       string `yaml:"id" json:"id,omitempty"`
	Username string `yaml:"username" json:"username,omitempty"`
	Email    string `yaml:"email" json:"email,omitempty"`
}

// Server describes the reporting process/host attached to every report.
type Server struct {
	Host        string `yaml:"host" json:"host,omitempty"`
	Root        string `yaml:"root" json:"root,omitempty"`
	Branch      string `yaml:"branch" json:"branch,omitempty"`
	CodeVersion string `yaml:"code_version" json:"code_version,omitempty"`
}

// CheckIgnoreFunc decides whether a report should be suppressed entirely
// before it ever reaches a queue (§3, §7 UserCallbackError).
type CheckIgnoreFunc func(level string, obj interface{}) bool

// TransformFunc mutates a report's custom data map (Data.Custom) before
// serialization. The other Data fields are not passed to it.
type TransformFunc func(data map[string]interface{})

// TruncateFunc trims an oversized serialized body to fit the ingestion
// endpoint's size limit.
type TruncateFunc func(body []byte) []byte

// Config is the full, process-wide configuration for one logger instance
// (§3). The zero value is not valid; build one with New and apply loaders.
type Config struct {
	AccessToken string `yaml:"access_token"`
	Environment string `yaml:"environment"`
	Enabled     bool   `yaml:"enabled"`
	LogLevel    string `yaml:"log_level"`

	MaxReportsPerMinute int `yaml:"max_reports_per_minute"`
	ReportingQueueDepth int `yaml:"reporting_queue_depth"`
	MaxItems            int `yaml:"max_items"`

	CaptureUncaughtExceptions bool `yaml:"capture_uncaught_exceptions"`

	ScrubFields          []string `yaml:"scrub_fields"`
	ScrubWhitelistFields []string `yaml:"scrub_whitelist_fields"`

	EndPoint      string `yaml:"endpoint"`
	ProxyAddress  string `yaml:"proxy_address"`
	ProxyUser     string `yaml:"proxy_user"`
	ProxyPassword string `yaml:"proxy_password"`

	CheckIgnore CheckIgnoreFunc `yaml:"-"`
	Transform   TransformFunc   `yaml:"-"`
	Truncate    TruncateFunc    `yaml:"-"`

	Server Server `yaml:"server"`
	Person Person `yaml:"person"`

	PersonDataCollectionPolicies []PersonDataCollectionPolicy `yaml:"person_data_collection_policies"`
	IPAddressCollectionPolicy    IPAddressCollectionPolicy    `yaml:"ip_address_collection_policy"`

	Gzip      bool   `yaml:"gzip"`
	UserAgent string `yaml:"user_agent"`
}

// Defaults mirrored from §3.
const (
	DefaultEndPoint            = "https://api.rollbar.com/api/1/"
	DefaultMaxReportsPerMinute = 60
	DefaultReportingQueueDepth = 20
	DefaultLogLevel            = "debug"
)

// New returns a Config populated with every documented default (§3). Callers
// apply a Loader on top to fill in AccessToken/Environment and any override.
func New() *Config {
	return &Config{
		Enabled:                   true,
		LogLevel:                  DefaultLogLevel,
		MaxReportsPerMinute:       DefaultMaxReportsPerMinute,
		ReportingQueueDepth:       DefaultReportingQueueDepth,
		EndPoint:                  DefaultEndPoint,
		IPAddressCollectionPolicy: IPCollectFull,
	}
}

// Validate enforces the construction-time invariants a ConfigurationError
// should be raised for (§7): a non-empty AccessToken and Environment.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("config: access token must not be empty")
	}
	if strings.TrimSpace(c.Environment) == "" {
		return fmt.Errorf("config: environment must not be empty")
	}
	if c.MaxReportsPerMinute <= 0 {
		return fmt.Errorf("config: max reports per minute must be positive")
	}
	if c.ReportingQueueDepth <= 0 {
		return fmt.Errorf("config: reporting queue depth must be positive")
	}
	return nil
}

// Loader applies one configuration source on top of an existing Config,
// overriding only the fields it recognizes. Multiple loaders can be chained;
// later loaders win (§3 "Reconfiguration is atomic").
type Loader interface {
	Load(c *Config) error
}

// Env keys recognized by EnvLoader, named after the teacher's
// MINIO_LOGGER_WEBHOOK_* convention (vishal7kumar-minio
// internal/logger/config.go) but scoped to this agent.
const (
	EnvAccessToken         = "BEACON_ACCESS_TOKEN"
	EnvEnvironment         = "BEACON_ENVIRONMENT"
	EnvEnabled             = "BEACON_ENABLED"
	EnvLogLevel            = "BEACON_LOG_LEVEL"
	EnvMaxReportsPerMinute = "BEACON_MAX_REPORTS_PER_MINUTE"
	EnvReportingQueueDepth = "BEACON_REPORTING_QUEUE_DEPTH"
	EnvMaxItems            = "BEACON_MAX_ITEMS"
	EnvEndPoint            = "BEACON_ENDPOINT"
	EnvProxyAddress        = "BEACON_PROXY_ADDRESS"
	EnvProxyUser           = "BEACON_PROXY_USER"
	EnvProxyPassword       = "BEACON_PROXY_PASSWORD"
	EnvGzip                = "BEACON_GZIP"
)

// EnvLoader reads configuration from process environment variables. Standard
// library os.LookupEnv suffices here: the teacher's own env helper
// (github.com/minio/pkg/env) is a one-line os.LookupEnv wrapper, not a
// distinct ecosystem dependency, so reaching past the standard library would
// add an import without adding capability.
type EnvLoader struct{}

// Load overrides c's fields from any recognized environment variable that is
// set. Unset variables leave the existing value untouched.
func (EnvLoader) Load(c *Config) error {
	if v, ok := os.LookupEnv(EnvAccessToken); ok {
		c.AccessToken = v
	}
	if v, ok := os.LookupEnv(EnvEnvironment); ok {
		c.Environment = v
	}
	if v, ok := os.LookupEnv(EnvEnabled); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvEnabled, err)
		}
		c.Enabled = b
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvMaxReportsPerMinute); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvMaxReportsPerMinute, err)
		}
		c.MaxReportsPerMinute = n
	}
	if v, ok := os.LookupEnv(EnvReportingQueueDepth); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvReportingQueueDepth, err)
		}
		c.ReportingQueueDepth = n
	}
	if v, ok := os.LookupEnv(EnvMaxItems); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvMaxItems, err)
		}
		c.MaxItems = n
	}
	if v, ok := os.LookupEnv(EnvEndPoint); ok {
		c.EndPoint = v
	}
	if v, ok := os.LookupEnv(EnvProxyAddress); ok {
		c.ProxyAddress = v
	}
	if v, ok := os.LookupEnv(EnvProxyUser); ok {
		c.ProxyUser = v
	}
	if v, ok := os.LookupEnv(EnvProxyPassword); ok {
		c.ProxyPassword = v
	}
	if v, ok := os.LookupEnv(EnvGzip); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvGzip, err)
		}
		c.Gzip = b
	}
	return nil
}

// FileLoader reads configuration from a YAML file, using the same shape
// Config marshals to (§3). Missing optional fields keep their current value.
type FileLoader struct {
	Path string
}

// Load reads f.Path and merges it into c. A missing or unreadable file is
// returned as an error; callers that treat the file as optional should check
// os.Stat themselves before calling Load.
func (f FileLoader) Load(c *Config) error {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", f.Path, err)
	}
	var overlay Config
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("config: parsing %s: %w", f.Path, err)
	}
	mergeNonZero(c, &overlay)
	return nil
}

// mergeNonZero copies every non-zero-valued field of overlay onto c. Simpler
// than reflection: the config surface is small and explicit merges are
// easier to audit against §3's field list.
func mergeNonZero(c, overlay *Config) {
	if overlay.AccessToken != "" {
		c.AccessToken = overlay.AccessToken
	}
	if overlay.Environment != "" {
		c.Environment = overlay.Environment
	}
	if overlay.Enabled {
		c.Enabled = true
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.CaptureUncaughtExceptions {
		c.CaptureUncaughtExceptions = true
	}
	if overlay.Gzip {
		c.Gzip = true
	}
	if overlay.MaxReportsPerMinute != 0 {
		c.MaxReportsPerMinute = overlay.MaxReportsPerMinute
	}
	if overlay.ReportingQueueDepth != 0 {
		c.ReportingQueueDepth = overlay.ReportingQueueDepth
	}
	if overlay.MaxItems != 0 {
		c.MaxItems = overlay.MaxItems
	}
	if overlay.EndPoint != "" {
		c.EndPoint = overlay.EndPoint
	}
	if len(overlay.ScrubFields) > 0 {
		c.ScrubFields = overlay.ScrubFields
	}
	if len(overlay.ScrubWhitelistFields) > 0 {
		c.ScrubWhitelistFields = overlay.ScrubWhitelistFields
	}
	if overlay.ProxyAddress != "" {
		c.ProxyAddress = overlay.ProxyAddress
	}
	if overlay.ProxyUser != "" {
		c.ProxyUser = overlay.ProxyUser
	}
	if overlay.ProxyPassword != "" {
		c.ProxyPassword = overlay.ProxyPassword
	}
	if overlay.Server != (Server{}) {
		c.Server = overlay.Server
	}
	if overlay.Person != (Person{}) {
		c.Person = overlay.Person
	}
	if len(overlay.PersonDataCollectionPolicies) > 0 {
		c.PersonDataCollectionPolicies = overlay.PersonDataCollectionPolicies
	}
	if overlay.IPAddressCollectionPolicy != "" {
		c.IPAddressCollectionPolicy = overlay.IPAddressCollectionPolicy
	}
	if overlay.UserAgent != "" {
		c.UserAgent = overlay.UserAgent
	}
}

// Apply runs every loader in order, returning the first error encountered.
func Apply(c *Config, loaders ...Loader) error {
	for _, l := range loaders {
		if err := l.Load(c); err != nil {
			return err
		}
	}
	return nil
}
