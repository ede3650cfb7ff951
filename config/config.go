// Package config loads runtime configuration from defaults, an
// optional overrides file, environment variables, and CLI flags, in
// that increasing order of precedence — the same layering the
// teacher's daemon commands apply (oriys-nova's `config.DefaultConfig`
// → `LoadFromFile` → `LoadFromEnv` → flag-changed overrides). The
// overrides file itself is flat `k=v` lines with `#`/`//` comments
// (spec §6), parsed line-by-line in the same `bufio.Scanner` style the
// teacher uses for its own line-oriented text parsing
// (Roasbeef-substrate's plan.go extractPlanTitle/extractRegexSummary).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vactorio/vactor/lock"
	"github.com/vactorio/vactor/remote"
)

// NATS holds message-bus transport settings (spec §1 "NATS server
// launcher" is out of scope; only the client-side address is ours to
// configure).
type NATS struct {
	Hosts    []string
	BasePort int
}

// Persistence holds settings for the (out-of-scope) persistence
// engine's client connection.
type Persistence struct {
	Namespace string
}

// ActorCapacity overrides a single actor type's container LRU capacity.
type ActorCapacity struct {
	ActorType string
	Capacity  int
}

// Config is the full set of runtime knobs (spec §6).
type Config struct {
	AppID       string
	RuntimeApps []string
	Transport   string // "nats" or "" (loopback)
	NATS        NATS
	Persistence Persistence
	Capacities  []ActorCapacity

	DefaultCapacity int
	TimeoutRPC      time.Duration
	LockTTL         time.Duration
}

// Default returns the built-in defaults: single-process loopback
// transport, in-memory services.
func Default() *Config {
	return &Config{
		AppID:           "app0",
		Transport:       "",
		DefaultCapacity: 10_000,
		TimeoutRPC:      remote.Timeout,
		LockTTL:         lock.TTL,
	}
}

// LoadFromFile reads a `k=v` overrides file on top of Default(). Blank
// lines and lines starting with `#` or `//` (leading whitespace
// ignored) are skipped (spec §6).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: LoadFromFile: %w", err)
	}
	cfg := Default()
	if err := applyOverrides(cfg, string(data)); err != nil {
		return nil, fmt.Errorf("config: LoadFromFile: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *Config, content string) error {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid override line %q: missing '='", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := setOverride(cfg, key, value); err != nil {
			return fmt.Errorf("override line %q: %w", line, err)
		}
	}
	return scanner.Err()
}

func setOverride(cfg *Config, key, value string) error {
	switch {
	case key == "app_id":
		cfg.AppID = value
	case key == "runtime_apps":
		cfg.RuntimeApps = splitCSV(value)
	case key == "transport":
		cfg.Transport = value
	case key == "nats.hosts":
		cfg.NATS.Hosts = splitCSV(value)
	case key == "nats.base_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("nats.base_port: %w", err)
		}
		cfg.NATS.BasePort = n
	case key == "persistence.namespace":
		cfg.Persistence.Namespace = value
	case key == "default_capacity":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("default_capacity: %w", err)
		}
		cfg.DefaultCapacity = n
	case key == "timeout_rpc":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("timeout_rpc: %w", err)
		}
		cfg.TimeoutRPC = d
	case key == "lock_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("lock_ttl: %w", err)
		}
		cfg.LockTTL = d
	case strings.HasPrefix(key, "capacity."):
		actorType := strings.TrimPrefix(key, "capacity.")
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.Capacities = append(cfg.Capacities, ActorCapacity{ActorType: actorType, Capacity: n})
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// LoadFromEnv applies VACTOR_-prefixed environment variable overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("VACTOR_APP_ID"); v != "" {
		cfg.AppID = v
	}
	if v := os.Getenv("VACTOR_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("VACTOR_PERSISTENCE_NAMESPACE"); v != "" {
		cfg.Persistence.Namespace = v
	}
	if v := os.Getenv("VACTOR_TIMEOUT_RPC"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TimeoutRPC = d
		}
	}
	if v := os.Getenv("VACTOR_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LockTTL = d
		}
	}
}

// CapacityFor returns the configured container capacity for actorType,
// falling back to DefaultCapacity.
func (c *Config) CapacityFor(actorType string) int {
	for _, ac := range c.Capacities {
		if ac.ActorType == actorType {
			return ac.Capacity
		}
	}
	return c.DefaultCapacity
}

// Validate enforces the invariant that the RPC timeout must leave room
// for at least one lock refresh cycle within a lease, per spec §5
// ("timeoutRPC < lockTTL/2").
func (c *Config) Validate() error {
	if c.TimeoutRPC >= c.LockTTL/2 {
		return fmt.Errorf("config: Validate: timeout_rpc (%s) must be less than lock_ttl/2 (%s)", c.TimeoutRPC, c.LockTTL/2)
	}
	return nil
}
