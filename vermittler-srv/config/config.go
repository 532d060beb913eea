package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/logger"
)

const (
	DefaultServerName     = "vermittler"
	DefaultTimeoutSeconds = 30
	// DefaultConnectTimeoutSeconds bounds dialing a CONNECT or relay target.
	DefaultConnectTimeoutSeconds = 15
	DefaultStaticRoot            = "webroot"
	DefaultStaticIndex           = "index.html"
	DefaultForwardHost           = "127.0.0.1"
	DefaultForwardPort           = 8080
	// RegexPathPrefix marks a location path as a regular expression.
	RegexPathPrefix = "~"
)

// UpstreamType selects how outbound forward-proxy connections are chained.
type UpstreamType string

const (
	UpstreamTypeHTTP   UpstreamType = "http"
	UpstreamTypeSOCKS5 UpstreamType = "socks5"
)

// Credentials are the expected Basic Proxy-Authorization values.
type Credentials struct {
	Username string
	Password string
}

// UpstreamProxy is a further proxy all forward-proxy connections go through.
type UpstreamProxy struct {
	Type     UpstreamType
	Host     string
	Port     int
	Username *string
	Password *string
}

// Address returns host:port of the upstream proxy.
func (u *UpstreamProxy) Address() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// ForwardProxyConfig defines one forward proxy listener.
type ForwardProxyConfig struct {
	Enabled               bool
	Host                  string
	Port                  int
	Auth                  *Credentials
	RandomCredentials     bool
	GeneratedAuth         bool
	Upstream              *UpstreamProxy
	ConnectTimeoutSeconds int
	BlockedHosts          []string
}

// ListenAddress returns the host:port the listener binds to.
func (f ForwardProxyConfig) ListenAddress() string {
	return net.JoinHostPort(f.Host, strconv.Itoa(f.Port))
}

// ConnectTimeout returns the dial timeout for targets and upstream proxies.
func (f ForwardProxyConfig) ConnectTimeout() time.Duration {
	if f.ConnectTimeoutSeconds <= 0 {
		return DefaultConnectTimeoutSeconds * time.Second
	}
	return time.Duration(f.ConnectTimeoutSeconds) * time.Second
}

// TLSConfig holds the TLS material of a virtual server.
type TLSConfig struct {
	Enable    bool
	Cert      string
	Key       string
	Protocols string
	Ciphers   []string
}

// LocationRule relays requests below Path to Origin.
type LocationRule struct {
	Path   string
	Origin string
}

// IsRegex reports whether Path is a regular expression.
func (l LocationRule) IsRegex() bool {
	return strings.HasPrefix(l.Path, RegexPathPrefix)
}

// StaticRule serves files below Path from Root.
type StaticRule struct {
	Path             string
	Root             string
	DirectoryListing *bool
	Index            string
	AddHeaders       map[string]string
}

// ListingEnabled reports whether directory listings are served.
func (s StaticRule) ListingEnabled() bool {
	return s.DirectoryListing != nil && *s.DirectoryListing
}

// VirtualServerConfig defines one reverse-proxy listener.
type VirtualServerConfig struct {
	Host      string
	Listen    int
	TLS       *TLSConfig
	Page404   string
	Locations []LocationRule
	Statics   []StaticRule
}

// ListenAddress returns the host:port the virtual server binds to.
func (v VirtualServerConfig) ListenAddress() string {
	return net.JoinHostPort(v.Host, strconv.Itoa(v.Listen))
}

// TLSEnabled reports whether the virtual server terminates TLS.
func (v VirtualServerConfig) TLSEnabled() bool {
	return v.TLS != nil && v.TLS.Enable
}

// StatisticsConfig selects the backend for connection statistics.
type StatisticsConfig struct {
	Enabled     bool
	Backend     string
	SQLitePath  string
	PostgresDSN string
	// FlushIntervalMillis is how often buffered events are written; 0 uses
	// the collector default.
	FlushIntervalMillis int
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
	Path          string
}

// Config represents the complete runtime configuration.
type Config struct {
	ServerName     string
	TimeoutSeconds int
	ForwardProxies []ForwardProxyConfig
	VirtualServers []VirtualServerConfig
	DNS            DNSConfig
	Statistics     StatisticsConfig
	Metrics        MetricsConfig
}

// Timeout returns the global I/O timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		ServerName:     DefaultServerName,
		TimeoutSeconds: DefaultTimeoutSeconds,
		DNS:            DefaultDNSConfig(),
		Statistics: StatisticsConfig{
			Backend:    "sqlite",
			SQLitePath: "vermittler_stats.db",
		},
		Metrics: MetricsConfig{
			ListenAddress: "127.0.0.1:9090",
			Path:          "/metrics",
		},
	}
}

func defaultForwardProxy() ForwardProxyConfig {
	return ForwardProxyConfig{
		Enabled:               true,
		Host:                  DefaultForwardHost,
		Port:                  DefaultForwardPort,
		ConnectTimeoutSeconds: DefaultConnectTimeoutSeconds,
	}
}

// LoadConfig loads configuration from the specified file path. The format is
// chosen by extension (.json, .hcl, .yaml, .yml). Environment variables are
// applied after the file. An empty path yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	if configPath != "" {
		data, err := readConfigData(configPath)
		if err != nil {
			return nil, err
		}
		if err := applyConfigData(cfg, data); err != nil {
			return nil, err
		}
	}

	loadConfigFromEnv(cfg)

	if len(cfg.ForwardProxies) == 0 && len(cfg.VirtualServers) == 0 {
		cfg.ForwardProxies = []ForwardProxyConfig{defaultForwardProxy()}
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func cleanConfigPath(configPath string) (string, error) {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return "", fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}
	return cleanPath, nil
}

func readConfigData(configPath string) (map[string]any, error) {
	cleanPath, err := cleanConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(cleanPath)
	switch strings.ToLower(ext) {
	case ".json":
		return loadJSONData(cleanPath)
	case ".hcl":
		return loadHCLData(cleanPath)
	case ".yaml", ".yml":
		return loadYAMLData(cleanPath)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func loadJSONData(path string) (map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	// Decode into a map so hyphenated keys and secrets share one walker
	var data map[string]any
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode JSON config: %w", err)
	}
	return data, nil
}

func applyConfigData(cfg *Config, data map[string]any) error {
	if err := setValue(data, "server-name", "", &cfg.ServerName); err != nil {
		return err
	}
	if err := setValue(data, "timeout-seconds", "", &cfg.TimeoutSeconds); err != nil {
		return err
	}

	if val, exists := data["forward-proxy"]; exists {
		fwdMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("forward-proxy must be an object")
		}
		fwd, err := parseForwardProxy(fwdMap, "forward-proxy.")
		if err != nil {
			return err
		}
		cfg.ForwardProxies = append(cfg.ForwardProxies, fwd)
	}

	if val, exists := data["forward-proxies"]; exists {
		fwdList, ok := val.([]any)
		if !ok {
			return fmt.Errorf("forward-proxies must be an array")
		}
		for i, item := range fwdList {
			fwdMap, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("forward proxy at index %d must be an object", i)
			}
			fwd, err := parseForwardProxy(fwdMap, fmt.Sprintf("forward-proxies[%d].", i))
			if err != nil {
				return err
			}
			cfg.ForwardProxies = append(cfg.ForwardProxies, fwd)
		}
	}

	if val, exists := data["proxy"]; exists {
		proxyList, err := objectList(val, "proxy")
		if err != nil {
			return err
		}
		for i, vsMap := range proxyList {
			vs, err := parseVirtualServer(vsMap, fmt.Sprintf("proxy[%d].", i))
			if err != nil {
				return err
			}
			cfg.VirtualServers = append(cfg.VirtualServers, vs)
		}
	}

	if val, exists := data["dns"]; exists {
		dnsMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("dns must be an object")
		}
		if err := parseDNSConfig(dnsMap, &cfg.DNS); err != nil {
			return err
		}
	}

	if val, exists := data["statistics"]; exists {
		statsMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("statistics must be an object")
		}
		if err := setValue(statsMap, "enabled", "statistics.", &cfg.Statistics.Enabled); err != nil {
			return err
		}
		if err := setValue(statsMap, "backend", "statistics.", &cfg.Statistics.Backend); err != nil {
			return err
		}
		if err := setValue(statsMap, "sqlite-path", "statistics.", &cfg.Statistics.SQLitePath); err != nil {
			return err
		}
		if err := setValue(statsMap, "postgres-dsn", "statistics.", &cfg.Statistics.PostgresDSN); err != nil {
			return err
		}
		if err := setValue(statsMap, "flush-interval-ms", "statistics.", &cfg.Statistics.FlushIntervalMillis); err != nil {
			return err
		}
	}

	if val, exists := data["metrics"]; exists {
		metricsMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("metrics must be an object")
		}
		if err := setValue(metricsMap, "enabled", "metrics.", &cfg.Metrics.Enabled); err != nil {
			return err
		}
		if err := setValue(metricsMap, "listen-address", "metrics.", &cfg.Metrics.ListenAddress); err != nil {
			return err
		}
		if err := setValue(metricsMap, "path", "metrics.", &cfg.Metrics.Path); err != nil {
			return err
		}
	}

	return nil
}

func parseForwardProxy(m map[string]any, ctx string) (ForwardProxyConfig, error) {
	fwd := defaultForwardProxy()

	if err := setValue(m, "enabled", ctx, &fwd.Enabled); err != nil {
		return fwd, err
	}
	if err := setValue(m, "host", ctx, &fwd.Host); err != nil {
		return fwd, err
	}
	if err := setValue(m, "port", ctx, &fwd.Port); err != nil {
		return fwd, err
	}
	if err := setValue(m, "connect-timeout-seconds", ctx, &fwd.ConnectTimeoutSeconds); err != nil {
		return fwd, err
	}
	if err := setValue(m, "randUserPwd", ctx, &fwd.RandomCredentials); err != nil {
		return fwd, err
	}

	var username, password string
	if err := setValue(m, "username", ctx, &username); err != nil {
		return fwd, err
	}
	if err := setValue(m, "password", ctx, &password); err != nil {
		return fwd, err
	}
	if username != "" || password != "" {
		fwd.Auth = &Credentials{Username: username, Password: password}
	}

	if val, exists := m["blocked-hosts"]; exists {
		hosts, err := parseStringList(val)
		if err != nil {
			return fwd, fmt.Errorf("%sblocked-hosts: %w", ctx, err)
		}
		fwd.BlockedHosts = hosts
	}

	if val, exists := m["upstream"]; exists {
		upMap, ok := val.(map[string]any)
		if !ok {
			return fwd, fmt.Errorf("%supstream must be an object", ctx)
		}
		upstream, err := parseUpstream(upMap, ctx+"upstream.")
		if err != nil {
			return fwd, err
		}
		fwd.Upstream = upstream
	}

	return fwd, nil
}

func parseUpstream(m map[string]any, ctx string) (*UpstreamProxy, error) {
	upstream := &UpstreamProxy{Type: UpstreamTypeHTTP}

	var upstreamType string
	if err := setValue(m, "type", ctx, &upstreamType); err != nil {
		return nil, err
	}
	switch UpstreamType(strings.ToLower(upstreamType)) {
	case "", UpstreamTypeHTTP:
		upstream.Type = UpstreamTypeHTTP
	case UpstreamTypeSOCKS5:
		upstream.Type = UpstreamTypeSOCKS5
	default:
		return nil, fmt.Errorf("%stype: unsupported upstream type %q", ctx, upstreamType)
	}

	if err := setValue(m, "ip", ctx, &upstream.Host); err != nil {
		return nil, err
	}
	if err := setValue(m, "port", ctx, &upstream.Port); err != nil {
		return nil, err
	}
	if val, exists := m["username"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return nil, wrapValueError(err, ctx, "username", "string")
		}
		upstream.Username = ptr
	}
	if val, exists := m["password"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return nil, wrapValueError(err, ctx, "password", "string")
		}
		upstream.Password = ptr
	}
	return upstream, nil
}

func parseVirtualServer(m map[string]any, ctx string) (VirtualServerConfig, error) {
	vs := VirtualServerConfig{}

	if err := setValue(m, "listen", ctx, &vs.Listen); err != nil {
		return vs, err
	}
	if err := setValue(m, "host", ctx, &vs.Host); err != nil {
		return vs, err
	}
	if err := setValue(m, "page404", ctx, &vs.Page404); err != nil {
		return vs, err
	}

	if val, exists := m["ssl"]; exists {
		sslMap, ok := val.(map[string]any)
		if !ok {
			return vs, fmt.Errorf("%sssl must be an object", ctx)
		}
		tlsCfg := &TLSConfig{}
		sslCtx := ctx + "ssl."
		if err := setValue(sslMap, "enable", sslCtx, &tlsCfg.Enable); err != nil {
			return vs, err
		}
		if err := setValue(sslMap, "cert", sslCtx, &tlsCfg.Cert); err != nil {
			return vs, err
		}
		if err := setValue(sslMap, "key", sslCtx, &tlsCfg.Key); err != nil {
			return vs, err
		}
		if err := setValue(sslMap, "ssl_protocols", sslCtx, &tlsCfg.Protocols); err != nil {
			return vs, err
		}
		if cipherVal, exists := sslMap["ssl_ciphers"]; exists {
			ciphers, err := parseStringList(cipherVal)
			if err != nil {
				return vs, fmt.Errorf("%sssl_ciphers: %w", sslCtx, err)
			}
			tlsCfg.Ciphers = ciphers
		}
		vs.TLS = tlsCfg
	}

	if val, exists := m["location"]; exists {
		locations, err := objectList(val, ctx+"location")
		if err != nil {
			return vs, err
		}
		for i, locMap := range locations {
			locCtx := fmt.Sprintf("%slocation[%d].", ctx, i)
			loc := LocationRule{}
			if err := setValue(locMap, "path", locCtx, &loc.Path); err != nil {
				return vs, err
			}
			if err := setValue(locMap, "origin", locCtx, &loc.Origin); err != nil {
				return vs, err
			}
			vs.Locations = append(vs.Locations, loc)
		}
	}

	if val, exists := m["static"]; exists {
		statics, err := objectList(val, ctx+"static")
		if err != nil {
			return vs, err
		}
		for i, staticMap := range statics {
			staticCtx := fmt.Sprintf("%sstatic[%d].", ctx, i)
			static := StaticRule{Root: DefaultStaticRoot, Index: DefaultStaticIndex}
			if err := setValue(staticMap, "path", staticCtx, &static.Path); err != nil {
				return vs, err
			}
			if err := setValue(staticMap, "root", staticCtx, &static.Root); err != nil {
				return vs, err
			}
			if err := setValue(staticMap, "index", staticCtx, &static.Index); err != nil {
				return vs, err
			}
			if listingVal, exists := staticMap["directory-listing"]; exists {
				ptr, err := parseValue[bool](listingVal)
				if err != nil {
					return vs, wrapValueError(err, staticCtx, "directory-listing", "boolean")
				}
				static.DirectoryListing = ptr
			}
			if headersVal, exists := staticMap["add-headers"]; exists {
				headersMap, ok := headersVal.(map[string]any)
				if !ok {
					return vs, fmt.Errorf("%sadd-headers must be an object", staticCtx)
				}
				static.AddHeaders = make(map[string]string, len(headersMap))
				for name, headerVal := range headersMap {
					ptr, err := parseValue[string](headerVal)
					if err != nil {
						return vs, wrapValueError(err, staticCtx+"add-headers.", name, "string")
					}
					static.AddHeaders[name] = *ptr
				}
			}
			vs.Statics = append(vs.Statics, static)
		}
	}

	return vs, nil
}

// objectList accepts either a single object or a list of objects.
func objectList(val any, name string) ([]map[string]any, error) {
	switch v := val.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		result := make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s at index %d must be an object", name, i)
			}
			result = append(result, m)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("%s must be an object or an array of objects", name)
	}
}

// parseStringList accepts a list of strings or a single string separated by
// whitespace, commas or colons.
func parseStringList(val any) ([]string, error) {
	switch v := val.(type) {
	case string:
		return strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ':' || r == ' ' || r == '\t' || r == '\n'
		}), nil
	case []any:
		result := make([]string, 0, len(v))
		for i, item := range v {
			ptr, err := parseValue[string](item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			result = append(result, *ptr)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", val)
	}
}

func typeName[T any]() string {
	var zero T
	switch reflect.TypeOf(zero).Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "number"
	case reflect.String:
		return "string"
	default:
		return fmt.Sprintf("%T", zero)
	}
}

func wrapValueError(err error, ctx, key, kind string) error {
	if strings.Contains(err.Error(), "secret") {
		return fmt.Errorf("%s%s: %w", ctx, key, err)
	}
	return fmt.Errorf("%s%s must be a %s: %w", ctx, key, kind, err)
}

// setValue stores m[key] into dst when the key is present.
func setValue[T any](m map[string]any, key, ctx string, dst *T) error {
	val, exists := m[key]
	if !exists || val == nil {
		return nil
	}
	ptr, err := parseValue[T](val)
	if err != nil {
		return wrapValueError(err, ctx, key, typeName[T]())
	}
	*dst = *ptr
	return nil
}

func parseValue[T any](value any) (*T, error) {
	var zero T
	tType := reflect.TypeOf(zero)
	ptr := reflect.New(tType)
	elem := ptr.Elem()

	// Secret-case: retrieve env var
	if m, ok := value.(map[string]any); ok {
		if key, ok := m["_secret"].(string); ok {
			res := os.Getenv(key)
			if res == "" {
				return nil, fmt.Errorf("secret %s not set", key)
			}
			value = res
		}
	}

	switch v := value.(type) {
	case float64:
		// JSON and HCL numbers
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(v)
		default:
			return nil, fmt.Errorf("expected %T, got number", zero)
		}
	case int:
		// YAML integers
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(float64(v))
		default:
			return nil, fmt.Errorf("expected %T, got number", zero)
		}
	case string:
		switch elem.Kind() {
		case reflect.String:
			elem.SetString(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse int: %w", err)
			}
			elem.SetInt(i)
		case reflect.Float32, reflect.Float64:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse float: %w", err)
			}
			elem.SetFloat(f)
		case reflect.Bool:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("failed to parse bool: %w", err)
			}
			elem.SetBool(b)
		default:
			return nil, fmt.Errorf("expected %T, got string", zero)
		}
	case bool:
		if elem.Kind() == reflect.Bool {
			elem.SetBool(v)
		} else {
			return nil, fmt.Errorf("expected %T, got bool", zero)
		}
	default:
		// direct-case: cast
		if rv, ok := value.(T); ok {
			return &rv, nil
		}
		return nil, fmt.Errorf("expected %T, got %T", zero, value)
	}
	return ptr.Interface().(*T), nil
}

func parseDNSConfig(m map[string]any, dns *DNSConfig) error {
	if err := setValue(m, "enabled", "dns.", &dns.Enabled); err != nil {
		return err
	}
	val, exists := m["servers"]
	if !exists {
		return nil
	}
	servers, err := objectList(val, "dns.servers")
	if err != nil {
		return err
	}
	dns.Servers = nil
	for i, serverMap := range servers {
		ctx := fmt.Sprintf("dns.servers[%d].", i)
		server := DNSServerConfig{Type: DNSTypeUDP, TimeoutSeconds: 10}
		if err := setValue(serverMap, "address", ctx, &server.Address); err != nil {
			return err
		}
		var serverType string
		if err := setValue(serverMap, "type", ctx, &serverType); err != nil {
			return err
		}
		if serverType != "" {
			server.Type = DNSType(strings.ToLower(serverType))
		}
		if err := setValue(serverMap, "timeout-seconds", ctx, &server.TimeoutSeconds); err != nil {
			return err
		}
		if err := setValue(serverMap, "tls-host", ctx, &server.TLSHost); err != nil {
			return err
		}
		dns.Servers = append(dns.Servers, server)
	}
	return nil
}

func loadConfigFromEnv(cfg *Config) {
	if serverName := os.Getenv("VERMITTLER_SERVERNAME"); serverName != "" {
		cfg.ServerName = serverName
	}

	if timeoutStr := os.Getenv("VERMITTLER_TIMEOUTSECONDS"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.TimeoutSeconds = timeout
		} else {
			logger.Warn("Invalid format for VERMITTLER_TIMEOUTSECONDS: %s", timeoutStr)
		}
	}

	if addr := os.Getenv("VERMITTLER_METRICS_LISTENADDRESS"); addr != "" {
		cfg.Metrics.ListenAddress = addr
	}

	// The forward-proxy variables address the first forward listener and
	// create one when none was configured.
	portStr := os.Getenv("VERMITTLER_FORWARD_PORT")
	username := os.Getenv("VERMITTLER_FORWARD_USERNAME")
	password := os.Getenv("VERMITTLER_FORWARD_PASSWORD")
	if portStr == "" && username == "" && password == "" {
		return
	}
	if len(cfg.ForwardProxies) == 0 {
		cfg.ForwardProxies = []ForwardProxyConfig{defaultForwardProxy()}
	}
	fwd := &cfg.ForwardProxies[0]
	if portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			fwd.Port = port
		} else {
			logger.Warn("Invalid format for VERMITTLER_FORWARD_PORT: %s", portStr)
		}
	}
	if username != "" || password != "" {
		if fwd.Auth == nil {
			fwd.Auth = &Credentials{}
		}
		if username != "" {
			fwd.Auth.Username = username
		}
		if password != "" {
			fwd.Auth.Password = password
		}
	}
}

// finalize derives values that depend on the environment: generated
// credentials and the effective 404 page.
func (c *Config) finalize() error {
	for i := range c.ForwardProxies {
		fwd := &c.ForwardProxies[i]
		if !fwd.Enabled || !fwd.RandomCredentials || fwd.Auth != nil {
			continue
		}
		creds, err := GenerateCredentials()
		if err != nil {
			return fmt.Errorf("failed to generate credentials for forward proxy %s: %w", fwd.ListenAddress(), err)
		}
		fwd.Auth = creds
		fwd.GeneratedAuth = true
	}

	for i := range c.VirtualServers {
		vs := &c.VirtualServers[i]
		if vs.Page404 == "" {
			continue
		}
		if _, err := os.Stat(vs.Page404); err != nil {
			logger.Warn("404 page %s for port %d not readable, using built-in page: %v", vs.Page404, vs.Listen, err)
			vs.Page404 = ""
		}
	}
	return nil
}
