package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mediation engine. It supports the
// same three-layer priority as the rest of the framework:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("learnobot-mediation"),
//	    WithStateStoreDSN("file:mediation.db"),
//	)
type Config struct {
	Name string `json:"name" env:"MEDIATION_SERVICE_NAME" default:"learnobot-mediation"`
	ID   string `json:"id" env:"MEDIATION_SERVICE_ID"`

	// DefaultMode is the default session mode when a session is created without an
	// explicit mode (§3 Mode).
	DefaultMode string `json:"default_mode" env:"MEDIATION_DEFAULT_MODE" default:"practice"`

	Providers   ProviderBootstrapConfig `json:"providers"`
	StateStore  StateStoreConfig        `json:"state_store"`
	Concurrency ConcurrencyConfig       `json:"concurrency"`
	Escalation  EscalationConfig        `json:"escalation"`
	OCR         OCRConfig               `json:"ocr"`

	Telemetry   TelemetryConfig   `json:"telemetry"`
	Resilience  ResilienceConfig  `json:"resilience"`
	Logging     LoggingConfig     `json:"logging"`
	Development DevelopmentConfig `json:"development"`

	logger Logger `json:"-"`
}

// ProviderBootstrapConfig carries the bootstrap credential set loaded at
// startup (§6 Configuration bootstrap). Entries here seed the provider
// registry's durable store on first run; once a credential exists in the
// durable store it takes precedence over bootstrap config on subsequent
// boots (§4.5 P1/P2).
type ProviderBootstrapConfig struct {
	// EncryptionKeyPath points to the symmetric key used to encrypt
	// credentials at rest. If the file is absent no key is loaded and
	// credentials are stored unencrypted.
	EncryptionKeyPath string `json:"encryption_key_path" env:"MEDIATION_ENCRYPTION_KEY_PATH" default:"./mediation.key"`

	// Seeds is a family -> credential map loaded from env at startup, e.g.
	// MEDIATION_PROVIDER_OPENAI_API_KEY, MEDIATION_PROVIDER_GOOGLE_API_KEY,
	// MEDIATION_PROVIDER_ANTHROPIC_API_KEY, MEDIATION_PROVIDER_BEDROCK_*,
	// MEDIATION_PROVIDER_OLLAMA_BASE_URL.
	Seeds map[string]string `json:"-"`
}

// StateStoreConfig configures the durable conversation-state store (§4.4).
type StateStoreConfig struct {
	Driver          string        `json:"driver" env:"MEDIATION_STATE_DRIVER" default:"sqlite"`
	DSN             string        `json:"dsn" env:"MEDIATION_STATE_DSN" default:"file:mediation_state.db?cache=shared&_pragma=busy_timeout(5000)"`
	MaxOpenConns    int           `json:"max_open_conns" env:"MEDIATION_STATE_MAX_CONNS" default:"4"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"MEDIATION_STATE_CONN_LIFETIME" default:"1h"`
}

// ConcurrencyConfig configures the per-session locking model (§5).
type ConcurrencyConfig struct {
	SessionLockTimeout time.Duration `json:"session_lock_timeout" env:"MEDIATION_SESSION_LOCK_TIMEOUT" default:"30s"`
	MaxConcurrentTurns int           `json:"max_concurrent_turns" env:"MEDIATION_MAX_CONCURRENT_TURNS" default:"64"`
	TextTurnDeadline   time.Duration `json:"text_turn_deadline" env:"MEDIATION_TEXT_TURN_DEADLINE" default:"180s"`
	VisionTurnDeadline time.Duration `json:"vision_turn_deadline" env:"MEDIATION_VISION_TURN_DEADLINE" default:"180s"`
}

// EscalationConfig configures the background inactivity sweep that replaces
// the original per-turn background thread (§9 open question 4).
type EscalationConfig struct {
	InactivityThreshold time.Duration `json:"inactivity_threshold" env:"MEDIATION_ESCALATION_INACTIVITY" default:"5m"`
	// Schedule is a standard 5-field cron expression for the sweep cadence.
	Schedule string `json:"schedule" env:"MEDIATION_ESCALATION_SCHEDULE" default:"*/1 * * * *"`
}

// OCRConfig configures the fallback OCR collaborator (§4.8).
type OCRConfig struct {
	TesseractPath  string        `json:"tesseract_path" env:"MEDIATION_OCR_TESSERACT_PATH" default:"tesseract"`
	PerAttemptTimeout time.Duration `json:"per_attempt_timeout" env:"MEDIATION_OCR_ATTEMPT_TIMEOUT" default:"30s"`
}

// TelemetryConfig contains observability configuration for metrics.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" env:"MEDIATION_TELEMETRY_ENABLED" default:"true"`
	ServiceName string `json:"service_name" env:"MEDIATION_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
}

// ResilienceConfig contains fault tolerance configuration shared by every
// provider adapter (§4.6/§5).
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"MEDIATION_CB_ENABLED" default:"true"`
	Threshold        int           `json:"threshold" env:"MEDIATION_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" env:"MEDIATION_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" env:"MEDIATION_CB_HALF_OPEN" default:"3"`
}

type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" env:"MEDIATION_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" env:"MEDIATION_RETRY_INITIAL_INTERVAL" default:"1s"`
	MaxInterval     time.Duration `json:"max_interval" env:"MEDIATION_RETRY_MAX_INTERVAL" default:"30s"`
	Multiplier      float64       `json:"multiplier" env:"MEDIATION_RETRY_MULTIPLIER" default:"2.0"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" env:"MEDIATION_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"MEDIATION_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"MEDIATION_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig contains settings for local development.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"MEDIATION_DEV_MODE" default:"false"`
	MockProvider bool `json:"mock_provider" env:"MEDIATION_MOCK_PROVIDER" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"MEDIATION_DEBUG" default:"false"`
}

// Option is a functional option for configuring the engine.
type Option func(*Config) error

// WithName sets the service name used in logs and telemetry.
func WithName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("%w: name cannot be empty", ErrInvalidConfiguration)
		}
		c.Name = name
		return nil
	}
}

// WithDefaultMode sets the mode new sessions start in when unspecified.
func WithDefaultMode(mode string) Option {
	return func(c *Config) error {
		c.DefaultMode = mode
		return nil
	}
}

// WithStateStoreDSN overrides the durable conversation-state store DSN.
func WithStateStoreDSN(dsn string) Option {
	return func(c *Config) error {
		if dsn == "" {
			return fmt.Errorf("%w: state store dsn cannot be empty", ErrInvalidConfiguration)
		}
		c.StateStore.DSN = dsn
		return nil
	}
}

// WithEncryptionKeyPath overrides where the credential-at-rest key lives.
func WithEncryptionKeyPath(path string) Option {
	return func(c *Config) error {
		c.Providers.EncryptionKeyPath = path
		return nil
	}
}

// WithLogger installs a pre-built logger instead of the default ProductionLogger.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithDevelopmentMode toggles human-readable logs and mock providers.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Logging.Format = "text"
		}
		return nil
	}
}

// DefaultConfig returns a configuration with sensible defaults, adjusted for
// the detected environment (Kubernetes vs local).
func DefaultConfig() *Config {
	cfg := &Config{
		Name:        "learnobot-mediation",
		DefaultMode: "practice",
		Providers: ProviderBootstrapConfig{
			EncryptionKeyPath: "./mediation.key",
			Seeds:             make(map[string]string),
		},
		StateStore: StateStoreConfig{
			Driver:          "sqlite",
			DSN:             "file:mediation_state.db?cache=shared&_pragma=busy_timeout(5000)",
			MaxOpenConns:    4,
			ConnMaxLifetime: time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			SessionLockTimeout: 30 * time.Second,
			MaxConcurrentTurns: 64,
			TextTurnDeadline:   180 * time.Second,
			VisionTurnDeadline: 180 * time.Second,
		},
		Escalation: EscalationConfig{
			InactivityThreshold: 5 * time.Minute,
			Schedule:            "*/1 * * * *",
		},
		OCR: OCRConfig{
			TesseractPath:     "tesseract",
			PerAttemptTimeout: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				Threshold:        5,
				Timeout:          30 * time.Second,
				HalfOpenRequests: 3,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 1 * time.Second,
				MaxInterval:     30 * time.Second,
				Multiplier:      2.0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Development: DevelopmentConfig{},
	}

	cfg.DetectEnvironment()
	return cfg
}

// DetectEnvironment adjusts defaults for the detected runtime environment.
func (c *Config) DetectEnvironment() {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		c.Logging.Format = "json"
		return
	}
	if os.Getenv("MEDIATION_DEV_MODE") == "" {
		c.Development.Enabled = true
		c.Logging.Format = "text"
	}
}

// LoadFromEnv loads configuration from environment variables. Variables
// take precedence over defaults but are overridden by functional options.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("MEDIATION_SERVICE_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("MEDIATION_SERVICE_ID"); v != "" {
		c.ID = v
	}
	if v := os.Getenv("MEDIATION_DEFAULT_MODE"); v != "" {
		c.DefaultMode = v
	}
	if v := os.Getenv("MEDIATION_ENCRYPTION_KEY_PATH"); v != "" {
		c.Providers.EncryptionKeyPath = v
	}
	if v := os.Getenv("MEDIATION_STATE_DSN"); v != "" {
		c.StateStore.DSN = v
	}
	if v := os.Getenv("MEDIATION_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MEDIATION_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if os.Getenv("MEDIATION_DEBUG") == "true" {
		c.Development.DebugLogging = true
	}

	// Provider family credential seeds (§4.5 startup_load / bootstrap_from_config).
	for _, family := range []string{"OPENAI", "GOOGLE", "ANTHROPIC", "BEDROCK", "OLLAMA"} {
		if v := os.Getenv("MEDIATION_PROVIDER_" + family + "_API_KEY"); v != "" {
			c.Providers.Seeds[strings.ToLower(family)] = v
		}
	}
	if v := os.Getenv("MEDIATION_PROVIDER_OLLAMA_BASE_URL"); v != "" {
		c.Providers.Seeds["ollama_base_url"] = v
	}

	return c.Validate()
}

// configFileOverlay is the subset of Config a deployment may pin in a
// checked-in YAML file rather than the environment — operational tuning
// (deadlines, thresholds, schedule) that a deployer wants versioned
// alongside the rest of the app config, as opposed to the provider
// credential seeds, which stay env/secret-only (§4.5 bootstrap_from_config).
type configFileOverlay struct {
	Name        *string        `yaml:"name"`
	DefaultMode *string        `yaml:"default_mode"`
	StateStore  *StateStoreConfig `yaml:"state_store"`
	Concurrency *ConcurrencyConfig `yaml:"concurrency"`
	Escalation  *EscalationConfig  `yaml:"escalation"`
	OCR         *OCRConfig         `yaml:"ocr"`
	Resilience  *ResilienceConfig  `yaml:"resilience"`
	Logging     *LoggingConfig     `yaml:"logging"`
}

// LoadFromFile overlays cfg with a YAML bootstrap file at path (§6
// Configuration bootstrap). Only fields present in the file are applied;
// everything else keeps whatever LoadFromEnv/defaults already set. A
// missing file is not an error — the overlay is optional by design, so a
// deployment with no MEDIATION_CONFIG_FILE set behaves exactly as before
// this method existed.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read config file %s: %v", ErrInvalidConfiguration, path, err)
	}

	// Sections decode into copies of the current values so that a section
	// present in the file only changes the sub-fields it names.
	stateStore, concurrency, escalation := c.StateStore, c.Concurrency, c.Escalation
	ocr, resilience, logging := c.OCR, c.Resilience, c.Logging
	overlay := configFileOverlay{
		StateStore: &stateStore, Concurrency: &concurrency, Escalation: &escalation,
		OCR: &ocr, Resilience: &resilience, Logging: &logging,
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("%w: parse config file %s: %v", ErrInvalidConfiguration, path, err)
	}

	if overlay.Name != nil {
		c.Name = *overlay.Name
	}
	if overlay.DefaultMode != nil {
		c.DefaultMode = *overlay.DefaultMode
	}
	if overlay.StateStore != nil {
		c.StateStore = *overlay.StateStore
	}
	if overlay.Concurrency != nil {
		c.Concurrency = *overlay.Concurrency
	}
	if overlay.Escalation != nil {
		c.Escalation = *overlay.Escalation
	}
	if overlay.OCR != nil {
		c.OCR = *overlay.OCR
	}
	if overlay.Resilience != nil {
		c.Resilience = *overlay.Resilience
	}
	if overlay.Logging != nil {
		c.Logging = *overlay.Logging
	}

	return c.Validate()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: service name is required", ErrMissingConfiguration)
	}
	if c.StateStore.DSN == "" {
		return fmt.Errorf("%w: state store dsn is required", ErrMissingConfiguration)
	}
	if c.Concurrency.SessionLockTimeout <= 0 {
		return fmt.Errorf("%w: session lock timeout must be positive", ErrInvalidConfiguration)
	}
	return nil
}

// NewConfig builds a Config from defaults, environment, then options, in
// that precedence order, and installs a ProductionLogger if none was set.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	if path := os.Getenv("MEDIATION_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		logger := NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)
		if prodLogger, ok := logger.(*ProductionLogger); ok {
			trackLogger(prodLogger)
		}
		cfg.logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the configured logger.
func (c *Config) Logger() Logger { return c.logger }

// ============================================================================
// ProductionLogger Implementation - Layered Observability Architecture
// ============================================================================

// ProductionLogger provides layered observability for engine operations:
// console output always works; metrics emission activates once the
// telemetry package registers itself via SetMetricsRegistry.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:          strings.ToLower(logging.Level),
		debug:          dev.DebugLogging || logging.Level == "debug",
		serviceName:    serviceName,
		format:         logging.Format,
		output:         output,
		metricsEnabled: false,
	}
}

// EnableMetrics is called by the telemetry package once it initializes.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

// logEvent implements all three observability layers: console, metrics, trace context.
func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": "engine",
			"message":   msg,
		}

		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					logEntry["trace."+k] = v
				}
			}
		}

		for k, v := range fields {
			logEntry[k] = v
		}

		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		traceInfo := ""
		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); baggage["request_id"] != "" {
				traceInfo = fmt.Sprintf("[req=%s] ", baggage["request_id"])
			}
		}

		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s] %s%s%s\n",
			timestamp, level, p.serviceName, traceInfo, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitFrameworkMetric(level, fields, ctx)
	}
}

// emitFrameworkMetric emits metrics with cardinality protection, deferred
// entirely to the registered MetricsRegistry implementation.
func (p *ProductionLogger) emitFrameworkMetric(level string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{
		"level", level,
		"service", p.serviceName,
		"component", "engine",
	}

	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type", "provider", "strategy":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}

	if ctx != nil {
		emitMetricWithContext(ctx, "mediation.framework.operations", 1.0, labels...)
	} else {
		emitMetric("mediation.framework.operations", 1.0, labels...)
	}
}

// Helper functions for weak coupling to the telemetry package.
func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
