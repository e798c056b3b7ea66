// Package config holds OPERATOR-LEVEL configuration for a Recourse installation.
//
// This is infrastructure config set by the operator who deploys the
// complaint pipeline: data directory, Mistral endpoint and API key, audit
// signing key, HITL thresholds, voucher policy constants, retention.
// Set via env vars (RECOURSE_*) or config file (recourse.config.yaml).
//
// Decision thresholds and voucher constants live here rather than in code
// so that support operations can tune them without a release.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the RECOURSE_ prefix
// (e.g. "mistral_api_key" → RECOURSE_MISTRAL_API_KEY) and to a YAML
// field in recourse.config.yaml (e.g. mistral_api_key: "...").
const (
	KeyDataDir       = "data_dir"
	KeySigningKey    = "signing_key"
	KeyListenAddr    = "listen_addr"
	KeyMistralAPIKey = "mistral_api_key"
	KeyMistralBase   = "mistral_base_url"
	KeyMistralModel  = "mistral_model"
	KeyLLMTimeoutSec = "llm_timeout_seconds"

	KeyHITLAmountThreshold     = "hitl_amount_threshold"
	KeyHITLLowConfidence       = "hitl_low_confidence_threshold"
	KeyHITLRecentCompensation  = "hitl_recent_compensation_threshold"
	KeyVoucherRate             = "voucher_rate"
	KeyVoucherMin              = "voucher_min"
	KeyVoucherMax              = "voucher_max"
	KeyVoucherTaperThreshold   = "voucher_taper_threshold"
	KeyVoucherTaperFactor      = "voucher_taper_factor"
	KeyVoucherFloor            = "voucher_floor"
	KeyRetentionDays           = "retention_days"
	KeyRetentionSchedule       = "retention_schedule"
	KeyRateLimitRPS            = "rate_limit_rps"
	KeyRateLimitBurst          = "rate_limit_burst"
)

// Defaults. The signing key intentionally has no baked-in default —
// when unset we generate a deterministic per-machine fallback and warn.
const (
	DefaultListenAddr        = ":8080"
	DefaultMistralBaseURL    = "https://api.mistral.ai/v1"
	DefaultMistralModel      = "mistral-small-latest"
	DefaultLLMTimeoutSec     = 60
	DefaultAmountThreshold   = 150.0
	DefaultLowConfidence     = 0.55
	DefaultRecentComp        = 75.0
	DefaultVoucherRate       = 0.18
	DefaultVoucherMin        = 10.0
	DefaultVoucherMax        = 60.0
	DefaultVoucherTaperAt    = 50.0
	DefaultVoucherTaper      = 0.75
	DefaultVoucherFloor      = 5.0
	DefaultRetentionDays     = 365
	DefaultRetentionSchedule = "0 3 * * *"
	DefaultRateLimitRPS      = 5.0
	DefaultRateLimitBurst    = 10
)

// Config holds resolved operator-level configuration for a recourse process.
type Config struct {
	DataDir       string // Base directory for all state (~/.recourse)
	SigningKey    string // HMAC-SHA256 key for audit record signing (≥32 bytes)
	ListenAddr    string // HTTP API listen address
	MistralAPIKey string // Mistral API key, required by run and serve
	MistralBase   string // Mistral API endpoint (OpenAI-compatible)
	MistralModel  string
	LLMTimeoutSec int

	HITLAmountThreshold    float64 // order total at/above which a human reviews
	HITLLowConfidence      float64 // resolution confidence below which a human reviews
	HITLRecentCompensation float64 // 90-day compensation total gating refunds/vouchers

	VoucherRate           float64 // fraction of order total
	VoucherMin            float64
	VoucherMax            float64
	VoucherTaperThreshold float64 // 90-day total at/above which the taper applies
	VoucherTaperFactor    float64
	VoucherFloor          float64

	RetentionDays     int    // case memory rows older than this are purged
	RetentionSchedule string // cron spec for the purge job

	RateLimitRPS   float64
	RateLimitBurst int

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the audit signing key was derived
// (not set explicitly). Commands should warn when this is the case.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// MemoryDBPath returns the full path to the case-memory SQLite database.
func (c *Config) MemoryDBPath() string {
	return filepath.Join(c.DataDir, "memory.db")
}

// AuditDBPath returns the full path to the audit SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// IndexDBPath returns the full path to the policy retrieval index.
func (c *Config) IndexDBPath() string {
	return filepath.Join(c.DataDir, "policy_index.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when the signing key is not explicitly set.
// Suppressed when RECOURSE_QUICKSTART=1 or true (demos, first-time exploration).
func (c *Config) WarnIfDefaultKeys() {
	if isQuickstart() {
		return
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default RECOURSE_SIGNING_KEY — set via env var or config file for production")
	}
}

func isQuickstart() bool {
	v := os.Getenv("RECOURSE_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func init() {
	viper.SetEnvPrefix("RECOURSE")
	viper.AutomaticEnv()
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyMistralBase, DefaultMistralBaseURL)
	viper.SetDefault(KeyMistralModel, DefaultMistralModel)
	viper.SetDefault(KeyLLMTimeoutSec, DefaultLLMTimeoutSec)
	viper.SetDefault(KeyHITLAmountThreshold, DefaultAmountThreshold)
	viper.SetDefault(KeyHITLLowConfidence, DefaultLowConfidence)
	viper.SetDefault(KeyHITLRecentCompensation, DefaultRecentComp)
	viper.SetDefault(KeyVoucherRate, DefaultVoucherRate)
	viper.SetDefault(KeyVoucherMin, DefaultVoucherMin)
	viper.SetDefault(KeyVoucherMax, DefaultVoucherMax)
	viper.SetDefault(KeyVoucherTaperThreshold, DefaultVoucherTaperAt)
	viper.SetDefault(KeyVoucherTaperFactor, DefaultVoucherTaper)
	viper.SetDefault(KeyVoucherFloor, DefaultVoucherFloor)
	viper.SetDefault(KeyRetentionDays, DefaultRetentionDays)
	viper.SetDefault(KeyRetentionSchedule, DefaultRetentionSchedule)
	viper.SetDefault(KeyRateLimitRPS, DefaultRateLimitRPS)
	viper.SetDefault(KeyRateLimitBurst, DefaultRateLimitBurst)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		SigningKey:    viper.GetString(KeySigningKey),
		ListenAddr:    viper.GetString(KeyListenAddr),
		MistralAPIKey: viper.GetString(KeyMistralAPIKey),
		MistralBase:   viper.GetString(KeyMistralBase),
		MistralModel:  viper.GetString(KeyMistralModel),
		LLMTimeoutSec: viper.GetInt(KeyLLMTimeoutSec),

		HITLAmountThreshold:    viper.GetFloat64(KeyHITLAmountThreshold),
		HITLLowConfidence:      viper.GetFloat64(KeyHITLLowConfidence),
		HITLRecentCompensation: viper.GetFloat64(KeyHITLRecentCompensation),

		VoucherRate:           viper.GetFloat64(KeyVoucherRate),
		VoucherMin:            viper.GetFloat64(KeyVoucherMin),
		VoucherMax:            viper.GetFloat64(KeyVoucherMax),
		VoucherTaperThreshold: viper.GetFloat64(KeyVoucherTaperThreshold),
		VoucherTaperFactor:    viper.GetFloat64(KeyVoucherTaperFactor),
		VoucherFloor:          viper.GetFloat64(KeyVoucherFloor),

		RetentionDays:     viper.GetInt(KeyRetentionDays),
		RetentionSchedule: viper.GetString(KeyRetentionSchedule),

		RateLimitRPS:   viper.GetFloat64(KeyRateLimitRPS),
		RateLimitBurst: viper.GetInt(KeyRateLimitBurst),
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recourse"
	}
	return filepath.Join(home, ".recourse")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. This is NOT cryptographically strong —
// it exists solely so `recourse run` works out of the box while still
// signing audit records with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("recourse:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.LLMTimeoutSec <= 0 {
		return fmt.Errorf("llm_timeout_seconds must be positive")
	}
	if c.HITLAmountThreshold < 0 {
		return fmt.Errorf("hitl_amount_threshold must not be negative")
	}
	if c.HITLLowConfidence < 0 || c.HITLLowConfidence > 1 {
		return fmt.Errorf("hitl_low_confidence_threshold must be within [0, 1]")
	}
	if c.VoucherRate <= 0 || c.VoucherRate >= 1 {
		return fmt.Errorf("voucher_rate must be within (0, 1)")
	}
	if c.VoucherMin > c.VoucherMax {
		return fmt.Errorf("voucher_min must not exceed voucher_max")
	}
	if c.VoucherTaperFactor <= 0 || c.VoucherTaperFactor > 1 {
		return fmt.Errorf("voucher_taper_factor must be within (0, 1]")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive")
	}
	return nil
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 hex characters
// (decoded length ≥32 for HMAC-SHA256). Anything that looks like hex is
// decoded as hex, so a truncated or odd-length hex key fails loudly
// instead of being silently accepted as a raw key.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && isHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("signing_key is not valid hex: %w", err)
		}
		if len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes (got %d)", len(decoded))
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set RECOURSE_SIGNING_KEY", n)
}

func isHexString(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}
