package conf

import "time"

// Bootstrap is the root configuration of the HookGuard service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Gate       *Gate
	Breaker    *Breaker
	Log        *Log
	Downstream *Downstream
}

// Server holds transport settings.
type Server struct {
	HTTP *ServerHTTP
	GRPC *ServerGRPC
	// AdminToken protects the breaker admin endpoints. Empty disables them.
	AdminToken string
}

// ServerHTTP configures the HTTP listener.
type ServerHTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// ServerGRPC configures the gRPC listener (health service only).
type ServerGRPC struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds storage backends.
type Data struct {
	Database   *Database
	Redis      *Redis
	StateStore *StateStore
}

// Database is the MySQL connection used by the durable breaker store and audit log.
type Database struct {
	Driver string
	Source string
}

// Redis connection settings.
type Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StateStore selects the circuit breaker state backend.
type StateStore struct {
	// Driver is one of "memory", "mysql", "redis".
	Driver string
	// CacheTTL bounds how stale a locally cached breaker record may be.
	CacheTTL time.Duration
	// CacheSize is the hard ceiling of locally cached records (oldest evicted first).
	CacheSize int
}

// Gate configures the inbound webhook security gate.
type Gate struct {
	// Enabled is the operational kill switch. false short-circuits every layer to passed.
	Enabled bool
	// FailFast stops at the first failing layer. false runs all layers (accumulate mode).
	FailFast bool
	// Environment is "production", "staging" or "development". Dev bypasses are
	// honoured only outside production.
	Environment string
	IP          *IPAllowlist
	RateLimit   *RateLimit
	Replay      *Replay
	Signature   *Signature
	Payload     *Payload
	Headers     *Headers
}

// IsProduction reports whether the gate runs in production mode.
func (g *Gate) IsProduction() bool {
	return g == nil || g.Environment == "" || g.Environment == "production"
}

// IPAllowlist configures address filtering.
type IPAllowlist struct {
	AllowedRanges []string
	TrustProxy    bool
	MaxProxyHops  int
	// DevAllowAll admits every address. Ignored in production.
	DevAllowAll bool
}

// RateLimit configures the multi-tier sliding window limiter.
type RateLimit struct {
	// Backend is "memory" or "redis".
	Backend        string
	IP             *RateTier
	Tenant         *RateTier
	Global         *RateTier
	MaxTrackedKeys int
	// SweepSpec is the cron spec of the expired-key sweep.
	SweepSpec string
}

// RateTier is one tier of the limiter.
type RateTier struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
}

// Replay configures timestamp freshness checks.
type Replay struct {
	MaxAge             time.Duration
	ClockSkewTolerance time.Duration
}

// Signature configures HMAC verification.
type Signature struct {
	Secret string
	// Algorithm is "sha256" (default), "sha512" or "sha1".
	Algorithm string
	// DevSkipVerification disables verification when no secret is set. Ignored in production.
	DevSkipVerification bool
}

// Payload configures content validation.
type Payload struct {
	MaxBytes          int64
	ContentType       string
	AllowedEventKinds []string
}

// Headers names the request headers the gate reads.
type Headers struct {
	Timestamp    string
	Signature    string
	ForwardedFor string
	Tenant       string
}

// Breaker configures the circuit breaker.
type Breaker struct {
	FailureThreshold int
	VolumeThreshold  int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	Timeout          time.Duration
	DefaultLanguage  string
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Downstream configures the event forwarder.
type Downstream struct {
	URL      string
	ProxyURL string
	Timeout  time.Duration
}
