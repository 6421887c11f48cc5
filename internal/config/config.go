package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"monitoring/internal/domain"
	"monitoring/internal/subdue"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

const (
	defaultServiceName      = "monitoring"
	defaultHandlerWorkers   = 64
	defaultHTTPListen       = ":8080"
	defaultHealthPath       = "/healthz"
	defaultReadyPath        = "/readyz"
	defaultMetricsPath      = "/metrics"
	defaultResultsPath      = "/results"
	defaultMaxBodyBytes     = 2 << 20
	defaultNATSURL          = "nats://127.0.0.1:4222"
	defaultNATSBucket       = "monitoring"
	defaultNATSStream       = "MONITORING"
	defaultSubjectPrefix    = "monitoring"
	defaultNATSAckWaitSec   = 30
	defaultNATSMaxDeliver   = -1
	defaultNATSMaxAckPend   = 1024
	defaultReconnectWaitMS  = 2000
	defaultRedisAddr        = "127.0.0.1:6379"
	defaultRedisPingSec     = 5
	defaultRedisDialMS      = 5000
	defaultSandboxTimeoutMS = 1000
	defaultLogMaxSizeMB     = 100
	defaultLogMaxBackups    = 5

	// StoreBackendMemory keeps state in process memory (single instance).
	StoreBackendMemory = "memory"
	// StoreBackendRedis keeps state in redis.
	StoreBackendRedis = "redis"
	// StoreBackendNATS keeps state in a JetStream KV bucket.
	StoreBackendNATS = "nats"

	// TransportBackendNATS exchanges messages over NATS.
	TransportBackendNATS = "nats"
	// TransportBackendMemory exchanges messages in process (single instance).
	TransportBackendMemory = "memory"
)

var (
	handlerNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	legacyArrayPattern = regexp.MustCompile(`(?m)^\s*\[\[\s*(check|handler|filter|mutator)\s*\]\]`)
)

// Config is the full runtime configuration snapshot.
// Params: process sections plus named check/handler/filter/mutator definitions.
// Returns: validated server settings.
type Config struct {
	Service   ServiceConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Store     StoreConfig
	Transport TransportConfig
	Sandbox   SandboxConfig
	Checks    map[string]domain.Check
	Handlers  map[string]HandlerConfig
	Filters   map[string]FilterConfig
	Mutators  map[string]MutatorConfig
}

// rawConfig mirrors TOML model before runtime normalization.
// Params: decoded sections from one TOML source.
// Returns: raw named-object maps keyed by table name.
type rawConfig struct {
	Service   ServiceConfig             `toml:"service"`
	Log       LogConfig                 `toml:"log"`
	HTTP      HTTPConfig                `toml:"http"`
	Store     StoreConfig               `toml:"store"`
	Transport TransportConfig           `toml:"transport"`
	Sandbox   SandboxConfig             `toml:"sandbox"`
	Check     map[string]map[string]any `toml:"check"`
	Handler   map[string]HandlerConfig  `toml:"handler"`
	Filter    map[string]FilterConfig   `toml:"filter"`
	Mutator   map[string]MutatorConfig  `toml:"mutator"`
}

// ServiceConfig contains process-level settings.
// Params: name, testing mode, and handler worker pool size.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name           string `toml:"name"`
	Testing        bool   `toml:"testing"`
	HandlerWorkers int    `toml:"handler_workers"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, path, and file rotation policy.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled    bool   `toml:"enabled"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// HTTPConfig configures health, metrics, and result injection endpoints.
type HTTPConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	ResultsPath  string `toml:"results_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// StoreConfig selects the state store backend.
// Params: backend name and backend-specific settings.
// Returns: store construction options.
type StoreConfig struct {
	Backend string          `toml:"backend"`
	Redis   RedisConfig     `toml:"redis"`
	NATS    NATSStoreConfig `toml:"nats"`
}

// RedisConfig configures the redis state backend.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	DialTimeoutMS   int    `toml:"dial_timeout_ms"`
	PingIntervalSec int    `toml:"ping_interval_sec"`
	MaxPingFailures int    `toml:"max_ping_failures"`
}

// NATSStoreConfig configures the JetStream KV state backend.
// Params: server URLs, bucket name, and bucket creation permission.
// Returns: NATS state backend options.
type NATSStoreConfig struct {
	URL               []string `toml:"url"`
	Bucket            string   `toml:"bucket"`
	AllowCreateBucket bool     `toml:"allow_create_bucket"`
	ConnectionName    string   `toml:"-"`
}

// TransportConfig selects the message transport backend.
type TransportConfig struct {
	Backend string              `toml:"backend"`
	NATS    NATSTransportConfig `toml:"nats"`
}

// NATSTransportConfig configures NATS messaging.
// Params: URLs, subject prefix, reconnect policy, and optional JetStream queue consumers.
// Returns: NATS transport options.
type NATSTransportConfig struct {
	URL             []string `toml:"url"`
	SubjectPrefix   string   `toml:"subject_prefix"`
	ReconnectWaitMS int      `toml:"reconnect_wait_ms"`
	MaxReconnects   int      `toml:"max_reconnects"`
	JetStream       bool     `toml:"jetstream"`
	Stream          string   `toml:"stream"`
	AckWaitSec      int      `toml:"ack_wait_sec"`
	MaxDeliver      int      `toml:"max_deliver"`
	MaxAckPending   int      `toml:"max_ack_pending"`
	ConnectionName  string   `toml:"-"`
}

// SandboxConfig bounds filter expression evaluation.
type SandboxConfig struct {
	TimeoutMS int `toml:"timeout_ms"`
}

// HandlerConfig is one `[handler.<name>]` table.
// Params: handler type and type-specific plus common selection fields.
// Returns: raw handler definition normalized by Settings.
type HandlerConfig struct {
	Type           string         `toml:"type"`
	Command        string         `toml:"command"`
	Mutator        string         `toml:"mutator"`
	Timeout        int            `toml:"timeout"`
	Severities     []string       `toml:"severities"`
	Filters        any            `toml:"filters"`
	Filter         string         `toml:"filter"`
	HandleFlapping bool           `toml:"handle_flapping"`
	Handlers       []string       `toml:"handlers"`
	Socket         SocketConfig   `toml:"socket"`
	Exchange       map[string]any `toml:"exchange"`
	Subdue         map[string]any `toml:"subdue"`
}

// SocketConfig is the tcp/udp handler destination.
type SocketConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// FilterNames returns filter references from filters (string or list) or filter.
// Params: none.
// Returns: filter names; nil when the handler declares none.
func (h HandlerConfig) FilterNames() []string {
	names := domain.Attributes{"filters": h.Filters}.Strings("filters")
	if len(names) > 0 {
		return names
	}
	if strings.TrimSpace(h.Filter) != "" {
		return []string{h.Filter}
	}
	return nil
}

// FilterConfig is one `[filter.<name>]` table.
type FilterConfig struct {
	Negate     bool           `toml:"negate"`
	Attributes map[string]any `toml:"attributes"`
}

// MutatorConfig is one `[mutator.<name>]` table.
type MutatorConfig struct {
	Command string `toml:"command"`
	Timeout int    `toml:"timeout"`
}

// ConfigSource describes where configuration is loaded from.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes, defaults, and validates one TOML document.
// Params: TOML body.
// Returns: validated config or decode/validation error.
func Parse(body []byte) (Config, error) {
	cfg, err := decode(body)
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalizeRawConfig converts raw TOML model to runtime config.
// Params: decoded raw config from file fragment.
// Returns: normalized config snapshot with named checks carrying their names.
func normalizeRawConfig(raw rawConfig) Config {
	cfg := Config{
		Service:   raw.Service,
		Log:       raw.Log,
		HTTP:      raw.HTTP,
		Store:     raw.Store,
		Transport: raw.Transport,
		Sandbox:   raw.Sandbox,
		Handlers:  raw.Handler,
		Filters:   raw.Filter,
		Mutators:  raw.Mutator,
	}
	if len(raw.Check) > 0 {
		cfg.Checks = make(map[string]domain.Check, len(raw.Check))
		for name, body := range raw.Check {
			check := domain.Check(body)
			check["name"] = name
			cfg.Checks[name] = check
		}
	}
	return cfg
}

// rejectUnsupportedSyntax checks forbidden TOML syntax and returns explicit error.
// Params: raw TOML file body.
// Returns: error when unsupported syntax is detected.
func rejectUnsupportedSyntax(body []byte) error {
	if match := legacyArrayPattern.FindSubmatch(body); match != nil {
		return fmt.Errorf("[[%s]] arrays are not supported; use [%s.<name>] tables", match[1], match[1])
	}
	return nil
}

func decode(body []byte) (Config, error) {
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, err
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, err
	}
	return normalizeRawConfig(raw), nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := decode(body)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst; later named objects win.
func mergeConfig(dst *Config, src Config) {
	if !isZero(src.Service) {
		dst.Service = src.Service
	}
	if !isZero(src.Log) {
		dst.Log = src.Log
	}
	if !isZero(src.HTTP) {
		dst.HTTP = src.HTTP
	}
	if !isZero(src.Store) {
		dst.Store = src.Store
	}
	if !isZero(src.Transport) {
		dst.Transport = src.Transport
	}
	if !isZero(src.Sandbox) {
		dst.Sandbox = src.Sandbox
	}
	dst.Checks = mergeNamed(dst.Checks, src.Checks)
	dst.Handlers = mergeNamed(dst.Handlers, src.Handlers)
	dst.Filters = mergeNamed(dst.Filters, src.Filters)
	dst.Mutators = mergeNamed(dst.Mutators, src.Mutators)
}

func mergeNamed[T any](dst, src map[string]T) map[string]T {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]T, len(src))
	}
	for name, value := range src {
		dst[name] = value
	}
	return dst
}

func isZero[T any](value T) bool {
	return reflect.ValueOf(&value).Elem().IsZero()
}

// applyDefaults fills omitted settings.
// Params: config to mutate.
// Returns: none.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.HandlerWorkers <= 0 {
		cfg.Service.HandlerWorkers = defaultHandlerWorkers
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if cfg.Log.File.MaxSizeMB <= 0 {
		cfg.Log.File.MaxSizeMB = defaultLogMaxSizeMB
	}
	if cfg.Log.File.MaxBackups <= 0 {
		cfg.Log.File.MaxBackups = defaultLogMaxBackups
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.HTTP.HealthPath) == "" {
		cfg.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.HTTP.ReadyPath) == "" {
		cfg.HTTP.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(cfg.HTTP.MetricsPath) == "" {
		cfg.HTTP.MetricsPath = defaultMetricsPath
	}
	if strings.TrimSpace(cfg.HTTP.ResultsPath) == "" {
		cfg.HTTP.ResultsPath = defaultResultsPath
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendMemory
	}
	if strings.TrimSpace(cfg.Store.Redis.Addr) == "" {
		cfg.Store.Redis.Addr = defaultRedisAddr
	}
	if cfg.Store.Redis.PingIntervalSec <= 0 {
		cfg.Store.Redis.PingIntervalSec = defaultRedisPingSec
	}
	if cfg.Store.Redis.DialTimeoutMS <= 0 {
		cfg.Store.Redis.DialTimeoutMS = defaultRedisDialMS
	}
	cfg.Store.NATS.URL = normalizeNATSURLs(cfg.Store.NATS.URL)
	if len(cfg.Store.NATS.URL) == 0 {
		cfg.Store.NATS.URL = []string{defaultNATSURL}
	}
	if strings.TrimSpace(cfg.Store.NATS.Bucket) == "" {
		cfg.Store.NATS.Bucket = defaultNATSBucket
	}

	cfg.Transport.Backend = strings.ToLower(strings.TrimSpace(cfg.Transport.Backend))
	if cfg.Transport.Backend == "" {
		cfg.Transport.Backend = TransportBackendNATS
	}
	cfg.Transport.NATS.URL = normalizeNATSURLs(cfg.Transport.NATS.URL)
	if len(cfg.Transport.NATS.URL) == 0 {
		cfg.Transport.NATS.URL = []string{defaultNATSURL}
	}
	cfg.Transport.NATS.SubjectPrefix = strings.Trim(strings.TrimSpace(cfg.Transport.NATS.SubjectPrefix), ".")
	if cfg.Transport.NATS.SubjectPrefix == "" {
		cfg.Transport.NATS.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.Transport.NATS.ReconnectWaitMS <= 0 {
		cfg.Transport.NATS.ReconnectWaitMS = defaultReconnectWaitMS
	}
	if cfg.Transport.NATS.MaxReconnects == 0 {
		cfg.Transport.NATS.MaxReconnects = -1
	}
	if strings.TrimSpace(cfg.Transport.NATS.Stream) == "" {
		cfg.Transport.NATS.Stream = defaultNATSStream
	}
	if cfg.Transport.NATS.AckWaitSec <= 0 {
		cfg.Transport.NATS.AckWaitSec = defaultNATSAckWaitSec
	}
	if cfg.Transport.NATS.MaxDeliver == 0 {
		cfg.Transport.NATS.MaxDeliver = defaultNATSMaxDeliver
	}
	if cfg.Transport.NATS.MaxAckPending <= 0 {
		cfg.Transport.NATS.MaxAckPending = defaultNATSMaxAckPend
	}

	if cfg.Sandbox.TimeoutMS <= 0 {
		cfg.Sandbox.TimeoutMS = defaultSandboxTimeoutMS
	}

	for name, handler := range cfg.Handlers {
		handler.Type = strings.ToLower(strings.TrimSpace(handler.Type))
		if handler.Type == "" {
			handler.Type = string(domain.HandlerPipe)
		}
		cfg.Handlers[name] = handler
	}
}

// validateConfig validates normalized configuration.
// Params: config after defaults.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if cfg.Service.HandlerWorkers <= 0 {
		return errors.New("service.handler_workers must be >0")
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}
	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Listen) == "" {
		return errors.New("http.listen is required")
	}

	switch cfg.Store.Backend {
	case StoreBackendMemory, StoreBackendRedis, StoreBackendNATS:
	default:
		return fmt.Errorf("store.backend has unsupported value %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == StoreBackendRedis && cfg.Store.Redis.MaxPingFailures < 0 {
		return errors.New("store.redis.max_ping_failures must be >=0")
	}
	if cfg.Store.Backend == StoreBackendNATS {
		if err := validateNATSURLs("store.nats.url", cfg.Store.NATS.URL); err != nil {
			return err
		}
	}

	switch cfg.Transport.Backend {
	case TransportBackendNATS:
		if err := validateNATSURLs("transport.nats.url", cfg.Transport.NATS.URL); err != nil {
			return err
		}
		if cfg.Transport.NATS.MaxDeliver < -1 {
			return errors.New("transport.nats.max_deliver must be -1 or >0")
		}
	case TransportBackendMemory:
		if cfg.Store.Backend != StoreBackendMemory {
			return errors.New("transport.backend=memory requires store.backend=memory")
		}
	default:
		return fmt.Errorf("transport.backend has unsupported value %q", cfg.Transport.Backend)
	}

	for _, name := range sortedKeys(cfg.Checks) {
		if err := validateCheck(name, cfg.Checks[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(cfg.Handlers) {
		if err := validateHandler(name, cfg.Handlers[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(cfg.Filters) {
		if cfg.Filters[name].Attributes == nil {
			return fmt.Errorf("filter.%s.attributes is required", name)
		}
	}
	for _, name := range sortedKeys(cfg.Mutators) {
		mutator := cfg.Mutators[name]
		if strings.TrimSpace(mutator.Command) == "" {
			return fmt.Errorf("mutator.%s.command is required", name)
		}
		if mutator.Timeout < 0 {
			return fmt.Errorf("mutator.%s.timeout must be >=0", name)
		}
	}
	return nil
}

// validateCheck validates one check definition.
// Params: check name and attributes.
// Returns: validation error.
func validateCheck(name string, check domain.Check) error {
	if !handlerNamePattern.MatchString(name) {
		return fmt.Errorf("check name %q has unsupported characters", name)
	}
	if cond, ok := check.Subdue(); ok {
		if err := subdue.Validate(cond); err != nil {
			return fmt.Errorf("check.%s.subdue: %w", name, err)
		}
	}
	if check.Standalone() || !check.Publish() {
		return nil
	}
	if interval, ok := check.Interval(); ok {
		if interval <= 0 {
			return fmt.Errorf("check.%s.interval must be >0", name)
		}
	} else if check.Cron() == "" {
		return fmt.Errorf("check.%s requires interval or cron", name)
	}
	if expr := check.Cron(); expr != "" {
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("check.%s.cron: %w", name, err)
		}
	}
	if len(check.Subscribers()) == 0 {
		return fmt.Errorf("check.%s.subscribers is required", name)
	}
	return nil
}

// validateHandler validates one handler definition.
// Params: handler name and raw config.
// Returns: validation error.
func validateHandler(name string, handler HandlerConfig) error {
	if !handlerNamePattern.MatchString(name) {
		return fmt.Errorf("handler name %q has unsupported characters", name)
	}
	kind, err := domain.ParseHandlerKind(handler.Type)
	if err != nil {
		return fmt.Errorf("handler.%s: %w", name, err)
	}
	if handler.Timeout < 0 {
		return fmt.Errorf("handler.%s.timeout must be >=0", name)
	}
	for _, severity := range handler.Severities {
		if !isSeverity(severity) {
			return fmt.Errorf("handler.%s.severities has unsupported value %q", name, severity)
		}
	}
	if handler.Subdue != nil {
		if err := subdue.Validate(domain.SubdueConditionFrom(handler.Subdue)); err != nil {
			return fmt.Errorf("handler.%s.subdue: %w", name, err)
		}
	}
	switch kind {
	case domain.HandlerPipe:
		if strings.TrimSpace(handler.Command) == "" {
			return fmt.Errorf("handler.%s.command is required", name)
		}
	case domain.HandlerTCP, domain.HandlerUDP:
		if strings.TrimSpace(handler.Socket.Host) == "" {
			return fmt.Errorf("handler.%s.socket.host is required", name)
		}
		if handler.Socket.Port <= 0 || handler.Socket.Port > 65535 {
			return fmt.Errorf("handler.%s.socket.port must be in 1..65535", name)
		}
	case domain.HandlerTransport:
		exchange := domain.Attributes(handler.Exchange)
		if exchangeName, _ := exchange.String("name"); strings.TrimSpace(exchangeName) == "" {
			return fmt.Errorf("handler.%s.exchange.name is required", name)
		}
	case domain.HandlerSet:
		if len(handler.Handlers) == 0 {
			return fmt.Errorf("handler.%s.handlers is required", name)
		}
	case domain.HandlerExtension:
		return fmt.Errorf("handler.%s: extension handlers are registered in process, not configured", name)
	}
	return nil
}

func isSeverity(value string) bool {
	for _, severity := range domain.Severities {
		if strings.EqualFold(severity, value) {
			return true
		}
	}
	return false
}

// normalizeNATSURLs trims spaces around each configured NATS URL.
// Params: raw URL list from config.
// Returns: normalized URL list preserving element count for validation.
func normalizeNATSURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = strings.TrimSpace(urls[i])
	}
	return out
}

func validateNATSURLs(path string, urls []string) error {
	if len(urls) == 0 {
		return fmt.Errorf("%s is required", path)
	}
	for i, url := range urls {
		if url == "" {
			return fmt.Errorf("%s[%d] is empty", path, i)
		}
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error", "panic":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	if sink.MaxAgeDays < 0 {
		return fmt.Errorf("%s.max_age_days must be >=0", name)
	}

	return nil
}

func sortedKeys[T any](items map[string]T) []string {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
