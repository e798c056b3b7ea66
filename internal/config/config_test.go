package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	t.Setenv("RECOURSE_SIGNING_KEY", "")
	t.Setenv("RECOURSE_DATA_DIR", "")
	t.Setenv("RECOURSE_MISTRAL_API_KEY", "")
	t.Setenv("RECOURSE_HITL_AMOUNT_THRESHOLD", "")
	t.Setenv("RECOURSE_VOUCHER_RATE", "")
	viper.Reset()
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

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultMistralBaseURL, cfg.MistralBase)
	assert.Equal(t, DefaultMistralModel, cfg.MistralModel)
	assert.Equal(t, DefaultAmountThreshold, cfg.HITLAmountThreshold)
	assert.Equal(t, DefaultLowConfidence, cfg.HITLLowConfidence)
	assert.Equal(t, DefaultVoucherRate, cfg.VoucherRate)
	assert.Equal(t, DefaultRetentionDays, cfg.RetentionDays)
	assert.True(t, cfg.UsingDefaultSigningKey(), "should report default key when none is set")
	assert.True(t, len(cfg.SigningKey) >= 32)
}

func TestLoad_ExplicitSigningKey(t *testing.T) {
	resetViper(t)
	t.Setenv("RECOURSE_SIGNING_KEY", "my-signing-key-at-least-32-chars!")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "my-signing-key-at-least-32-chars!", cfg.SigningKey)
	assert.False(t, cfg.UsingDefaultSigningKey())
}

func TestLoad_InvalidSigningKeyLength(t *testing.T) {
	resetViper(t)
	t.Setenv("RECOURSE_SIGNING_KEY", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing_key must be at least 32 bytes")
}

func TestLoad_CustomDataDir(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("RECOURSE_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "memory.db"), cfg.MemoryDBPath())
	assert.Equal(t, filepath.Join(dir, "audit.db"), cfg.AuditDBPath())
	assert.Equal(t, filepath.Join(dir, "policy_index.db"), cfg.IndexDBPath())
}

func TestLoad_ThresholdOverrides(t *testing.T) {
	resetViper(t)
	t.Setenv("RECOURSE_HITL_AMOUNT_THRESHOLD", "300")
	t.Setenv("RECOURSE_VOUCHER_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 300.0, cfg.HITLAmountThreshold)
	assert.Equal(t, 0.25, cfg.VoucherRate)
}

func TestLoad_RejectsBadVoucherBounds(t *testing.T) {
	resetViper(t)
	t.Setenv("RECOURSE_VOUCHER_RATE", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voucher_rate")
}

func TestValidateSigningKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"raw 32 bytes", "abcdefghijklmnopqrstuvwxyz012345", false},
		{"64 hex chars", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", false},
		{"mixed case hex", "0123456789ABCDEF0123456789abcdef0123456789ABCDEF0123456789abcdef", false},
		{"raw 64 non-hex bytes", strings.Repeat("zy", 32), false},
		{"too short", "short", true},
		{"31 bytes", "abcdefghijklmnopqrstuvwxyz01234", true},
		{"odd length hex", strings.Repeat("ab", 32) + "c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSigningKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSigningKey_ErrorMessages(t *testing.T) {
	err := validateSigningKey(strings.Repeat("ab", 32) + "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid hex")
	assert.NotContains(t, err.Error(), "<nil>")

	err = validateSigningKey("short")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "<nil>")
}
