package gateway

import "time"

// CollectorsConfig toggles which per-subgraph collectors attach to the
// resolution context: the upstream HTTP status code, the upstream response's
// extensions blob, or both.
type CollectorsConfig struct {
	CollectStatusCodes bool `yaml:"collectStatusCodes"`
	CollectExtensions  bool `yaml:"collectExtensions"`
}

// ServiceConfig describes one subgraph entry in gateway.yaml: its failover
// URLs, whether startup should fail without it, and its batching/header/
// collector/keep-alive knobs.
type ServiceConfig struct {
	Name                string           `yaml:"name"`
	URLs                []string         `yaml:"urls"`
	WSURL               string           `yaml:"wsUrl"`
	Mandatory           bool             `yaml:"mandatory"`
	AllowBatchedQueries bool             `yaml:"allowBatchedQueries"`
	RewriteHeaders      string           `yaml:"rewriteHeaders"`
	SecureJSON          bool             `yaml:"secureJson"`
	Collectors          CollectorsConfig `yaml:"collectors"`
	KeepAliveTimeout    string           `yaml:"keepAliveTimeout" default:"30s"`
	KeepAliveMaxTimeout string           `yaml:"keepAliveMaxTimeout" default:"60s"`
}

// Host returns the service's primary URL, the first of URLs.
func (s ServiceConfig) Host() string {
	if len(s.URLs) == 0 {
		return ""
	}
	return s.URLs[0]
}

func (s ServiceConfig) keepAliveTimeout() time.Duration {
	return parseDurationDefault(s.KeepAliveTimeout, 30*time.Second)
}

func (s ServiceConfig) keepAliveMaxTimeout() time.Duration {
	return parseDurationDefault(s.KeepAliveMaxTimeout, 60*time.Second)
}

// GatewayConfig is the gateway.yaml shape for the dynamic Gateway Core,
// carrying the startup-retry and schema-polling fields alongside the
// service list and transport/tracing settings.
type GatewayConfig struct {
	Endpoint        string               `yaml:"endpoint"`
	ServiceName     string               `yaml:"service_name"`
	Port            int                  `yaml:"port"`
	TimeoutDuration string               `yaml:"timeout_duration" default:"5s"`
	Services        []ServiceConfig      `yaml:"services"`
	Opentelemetry   OpentelemetrySetting `yaml:"opentelemetry"`

	PollingInterval       string `yaml:"pollingInterval" default:"30s"`
	RetryServicesCount    int    `yaml:"retryServicesCount" default:"10"`
	RetryServicesInterval string `yaml:"retryServicesInterval" default:"3000ms"`
	Cache                 bool   `yaml:"cache"`
}

func (c GatewayConfig) pollingInterval() time.Duration {
	return parseDurationDefault(c.PollingInterval, 30*time.Second)
}

func (c GatewayConfig) retryInterval() time.Duration {
	return parseDurationDefault(c.RetryServicesInterval, 3000*time.Millisecond)
}

func (c GatewayConfig) retryCount() int {
	if c.RetryServicesCount <= 0 {
		return 10
	}
	return c.RetryServicesCount
}

func parseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
