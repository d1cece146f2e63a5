// Package config binds the environment variables of spec §6 onto a typed
// Config struct using viper, the way dolthub-dolt's cluster/server commands
// bind their environment-driven settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized environment setting. NetworkMode is a
// plain string mirroring identity.NetworkMode without importing it, so
// config stays a leaf package with no internal dependencies.
type Config struct {
	NetworkMode string

	CoordinatorURL          string
	CoordinatorBootstrapURLs []string
	CoordinatorPrivateKeyPEM string
	MeshAuthToken            string
	AdminAPIToken            string

	IssuanceWindowMs         int64
	IssuanceRecalcMs         int64
	IssuanceBaseDailyPool    float64
	IssuanceMinDailyPool     float64
	IssuanceMaxDailyPool     float64
	IssuanceLoadCurveSlope   float64
	IssuanceSmoothingAlpha   float64
	IssuanceCoordinatorShare float64
	IssuanceReserveShare     float64

	AnchorIntervalMs int64

	MinContributionRatio    float64
	ContributionBurstCredits float64
	CoordinatorFeeBps        int64
}

// Load reads recognized environment variables (spec §6, "Environment
// configuration") into a Config, applying the defaults spec.md specifies
// wherever a variable is unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("network_mode", "public_mesh")
	v.SetDefault("coordinator_url", "")
	v.SetDefault("coordinator_bootstrap_urls", "")
	v.SetDefault("coordinator_private_key_pem", "")
	v.SetDefault("mesh_auth_token", "")
	v.SetDefault("admin_api_token", "")

	v.SetDefault("issuance_window_ms", int64(24*time.Hour/time.Millisecond))
	v.SetDefault("issuance_recalc_ms", int64(time.Hour/time.Millisecond))
	v.SetDefault("issuance_base_daily_pool_tokens", 10_000.0)
	v.SetDefault("issuance_min_daily_pool_tokens", 2_000.0)
	v.SetDefault("issuance_max_daily_pool_tokens", 50_000.0)
	v.SetDefault("issuance_load_curve_slope", 1.0)
	v.SetDefault("issuance_smoothing_alpha", 0.2)
	v.SetDefault("issuance_coordinator_share", 0.05)
	v.SetDefault("issuance_reserve_share", 0.10)

	v.SetDefault("anchor_interval_ms", int64(6*time.Hour/time.Millisecond))

	v.SetDefault("min_contribution_ratio", 1.0)
	v.SetDefault("contribution_burst_credits", 25.0)
	v.SetDefault("coordinator_fee_bps", int64(250))

	for _, key := range []string{
		"network_mode", "coordinator_url", "coordinator_bootstrap_urls",
		"coordinator_private_key_pem", "mesh_auth_token", "admin_api_token",
		"issuance_window_ms", "issuance_recalc_ms",
		"issuance_base_daily_pool_tokens", "issuance_min_daily_pool_tokens",
		"issuance_max_daily_pool_tokens", "issuance_load_curve_slope",
		"issuance_smoothing_alpha", "issuance_coordinator_share",
		"issuance_reserve_share", "anchor_interval_ms",
		"min_contribution_ratio", "contribution_burst_credits",
		"coordinator_fee_bps",
	} {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	cfg := &Config{
		NetworkMode:              v.GetString("network_mode"),
		CoordinatorURL:           v.GetString("coordinator_url"),
		CoordinatorPrivateKeyPEM: v.GetString("coordinator_private_key_pem"),
		MeshAuthToken:            v.GetString("mesh_auth_token"),
		AdminAPIToken:            v.GetString("admin_api_token"),

		IssuanceWindowMs:         v.GetInt64("issuance_window_ms"),
		IssuanceRecalcMs:         v.GetInt64("issuance_recalc_ms"),
		IssuanceBaseDailyPool:    v.GetFloat64("issuance_base_daily_pool_tokens"),
		IssuanceMinDailyPool:     v.GetFloat64("issuance_min_daily_pool_tokens"),
		IssuanceMaxDailyPool:     v.GetFloat64("issuance_max_daily_pool_tokens"),
		IssuanceLoadCurveSlope:   v.GetFloat64("issuance_load_curve_slope"),
		IssuanceSmoothingAlpha:   v.GetFloat64("issuance_smoothing_alpha"),
		IssuanceCoordinatorShare: v.GetFloat64("issuance_coordinator_share"),
		IssuanceReserveShare:     v.GetFloat64("issuance_reserve_share"),

		AnchorIntervalMs: v.GetInt64("anchor_interval_ms"),

		MinContributionRatio:     v.GetFloat64("min_contribution_ratio"),
		ContributionBurstCredits: v.GetFloat64("contribution_burst_credits"),
		CoordinatorFeeBps:        v.GetInt64("coordinator_fee_bps"),
	}

	if raw := v.GetString("coordinator_bootstrap_urls"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				cfg.CoordinatorBootstrapURLs = append(cfg.CoordinatorBootstrapURLs, u)
			}
		}
	}

	if cfg.NetworkMode != "public_mesh" && cfg.NetworkMode != "enterprise_overlay" {
		return nil, fmt.Errorf("config: invalid NETWORK_MODE %q", cfg.NetworkMode)
	}

	return cfg, nil
}
