// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with HOOKGUARD_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required environment variables:
//   - WEBHOOK_SECRET or HOOKGUARD_GATE_SIGNATURE_SECRET: HMAC signing secret
//     (may be omitted only outside production with gate.signature.dev_skip_verification)
//   - MYSQL_DSN or HOOKGUARD_DATA_DATABASE_SOURCE when data.state_store.driver is "mysql"
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("HOOKGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without HOOKGUARD_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "HOOKGUARD_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "HOOKGUARD_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "HOOKGUARD_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("gate.signature.secret", "WEBHOOK_SECRET", "HOOKGUARD_GATE_SIGNATURE_SECRET")
	_ = v.BindEnv("server.admin_token", "ADMIN_TOKEN", "HOOKGUARD_SERVER_ADMIN_TOKEN")
	_ = v.BindEnv("gate.environment", "HOOKGUARD_ENV", "HOOKGUARD_GATE_ENVIRONMENT")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
			GRPC: &ServerGRPC{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: v.GetDuration("server.grpc.timeout"),
			},
			AdminToken: v.GetString("server.admin_token"),
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
			StateStore: &StateStore{
				Driver:    v.GetString("data.state_store.driver"),
				CacheTTL:  v.GetDuration("data.state_store.cache_ttl"),
				CacheSize: v.GetInt("data.state_store.cache_size"),
			},
		},
		Gate: &Gate{
			Enabled:     v.GetBool("gate.enabled"),
			FailFast:    v.GetBool("gate.fail_fast"),
			Environment: v.GetString("gate.environment"),
			IP: &IPAllowlist{
				AllowedRanges: v.GetStringSlice("gate.ip.allowed_ranges"),
				TrustProxy:    v.GetBool("gate.ip.trust_proxy"),
				MaxProxyHops:  v.GetInt("gate.ip.max_proxy_hops"),
				DevAllowAll:   v.GetBool("gate.ip.dev_allow_all"),
			},
			RateLimit: &RateLimit{
				Backend:        v.GetString("gate.rate_limit.backend"),
				IP:             rateTier(v, "gate.rate_limit.ip"),
				Tenant:         rateTier(v, "gate.rate_limit.tenant"),
				Global:         rateTier(v, "gate.rate_limit.global"),
				MaxTrackedKeys: v.GetInt("gate.rate_limit.max_tracked_keys"),
				SweepSpec:      v.GetString("gate.rate_limit.sweep_spec"),
			},
			Replay: &Replay{
				MaxAge:             v.GetDuration("gate.replay.max_age"),
				ClockSkewTolerance: v.GetDuration("gate.replay.clock_skew_tolerance"),
			},
			Signature: &Signature{
				Secret:              v.GetString("gate.signature.secret"),
				Algorithm:           v.GetString("gate.signature.algorithm"),
				DevSkipVerification: v.GetBool("gate.signature.dev_skip_verification"),
			},
			Payload: &Payload{
				MaxBytes:          v.GetInt64("gate.payload.max_bytes"),
				ContentType:       v.GetString("gate.payload.content_type"),
				AllowedEventKinds: v.GetStringSlice("gate.payload.allowed_event_kinds"),
			},
			Headers: &Headers{
				Timestamp:    v.GetString("gate.headers.timestamp"),
				Signature:    v.GetString("gate.headers.signature"),
				ForwardedFor: v.GetString("gate.headers.forwarded_for"),
				Tenant:       v.GetString("gate.headers.tenant"),
			},
		},
		Breaker: &Breaker{
			FailureThreshold: v.GetInt("breaker.failure_threshold"),
			VolumeThreshold:  v.GetInt("breaker.volume_threshold"),
			SuccessThreshold: v.GetInt("breaker.success_threshold"),
			RecoveryTimeout:  v.GetDuration("breaker.recovery_timeout"),
			Timeout:          v.GetDuration("breaker.timeout"),
			DefaultLanguage:  v.GetString("breaker.default_language"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Downstream: &Downstream{
			URL:      v.GetString("downstream.url"),
			ProxyURL: v.GetString("downstream.proxy_url"),
			Timeout:  v.GetDuration("downstream.timeout"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

func rateTier(v *viper.Viper, prefix string) *RateTier {
	return &RateTier{
		Enabled:     v.GetBool(prefix + ".enabled"),
		MaxRequests: v.GetInt(prefix + ".max_requests"),
		Window:      v.GetDuration(prefix + ".window"),
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Second)

	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 5*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)
	v.SetDefault("data.state_store.driver", "memory")
	v.SetDefault("data.state_store.cache_ttl", 5*time.Second)
	v.SetDefault("data.state_store.cache_size", 4096)

	// Gate defaults
	v.SetDefault("gate.enabled", true)
	v.SetDefault("gate.fail_fast", true)
	v.SetDefault("gate.environment", "production")
	v.SetDefault("gate.ip.allowed_ranges", []string{})
	v.SetDefault("gate.ip.trust_proxy", false)
	v.SetDefault("gate.ip.max_proxy_hops", 2)
	v.SetDefault("gate.ip.dev_allow_all", false)

	v.SetDefault("gate.rate_limit.backend", "memory")
	v.SetDefault("gate.rate_limit.ip.enabled", true)
	v.SetDefault("gate.rate_limit.ip.max_requests", 100)
	v.SetDefault("gate.rate_limit.ip.window", time.Minute)
	v.SetDefault("gate.rate_limit.tenant.enabled", true)
	v.SetDefault("gate.rate_limit.tenant.max_requests", 1000)
	v.SetDefault("gate.rate_limit.tenant.window", time.Minute)
	v.SetDefault("gate.rate_limit.global.enabled", false)
	v.SetDefault("gate.rate_limit.global.max_requests", 10000)
	v.SetDefault("gate.rate_limit.global.window", time.Minute)
	v.SetDefault("gate.rate_limit.max_tracked_keys", 10000)
	v.SetDefault("gate.rate_limit.sweep_spec", "@every 1m")

	v.SetDefault("gate.replay.max_age", 5*time.Minute)
	v.SetDefault("gate.replay.clock_skew_tolerance", 30*time.Second)

	v.SetDefault("gate.signature.algorithm", "sha256")
	v.SetDefault("gate.signature.dev_skip_verification", false)

	v.SetDefault("gate.payload.max_bytes", 1<<20)
	v.SetDefault("gate.payload.content_type", "application/json")
	v.SetDefault("gate.payload.allowed_event_kinds", []string{})

	v.SetDefault("gate.headers.timestamp", "X-Webhook-Timestamp")
	v.SetDefault("gate.headers.signature", "X-Webhook-Signature")
	v.SetDefault("gate.headers.forwarded_for", "X-Forwarded-For")
	v.SetDefault("gate.headers.tenant", "X-Tenant-ID")

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.volume_threshold", 10)
	v.SetDefault("breaker.success_threshold", 1)
	v.SetDefault("breaker.recovery_timeout", 30*time.Second)
	v.SetDefault("breaker.timeout", 5*time.Second)
	v.SetDefault("breaker.default_language", "en")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("downstream.timeout", 4*time.Second)
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing or conflicting fields.
func Validate(bc *Bootstrap) error {
	var problems []string

	gate := bc.Gate
	if gate == nil {
		return fmt.Errorf("missing required configuration fields: gate")
	}

	// A gate that is switched off needs no secret.
	if gate.Enabled {
		sig := gate.Signature
		if sig == nil || sig.Secret == "" {
			if gate.IsProduction() || sig == nil || !sig.DevSkipVerification {
				problems = append(problems, "gate.signature.secret (WEBHOOK_SECRET)")
			}
		}
	}

	if gate.IsProduction() {
		if gate.IP != nil && gate.IP.DevAllowAll {
			problems = append(problems, "gate.ip.dev_allow_all must be false in production")
		}
		if gate.Signature != nil && gate.Signature.DevSkipVerification {
			problems = append(problems, "gate.signature.dev_skip_verification must be false in production")
		}
	}

	if bc.Data != nil && bc.Data.StateStore != nil && bc.Data.StateStore.Driver == "mysql" {
		if bc.Data.Database == nil || bc.Data.Database.Source == "" {
			problems = append(problems, "data.database.source (MYSQL_DSN)")
		}
	}

	if b := bc.Breaker; b != nil {
		if b.FailureThreshold <= 0 || b.SuccessThreshold <= 0 {
			problems = append(problems, "breaker thresholds must be positive")
		}
		if b.Timeout <= 0 || b.RecoveryTimeout <= 0 {
			problems = append(problems, "breaker timeout and recovery_timeout must be positive")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
