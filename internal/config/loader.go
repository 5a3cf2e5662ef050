// Package config provides configuration loading for Alfred.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/rhymu8354/alfred/internal/domain/document"
)

// InitViper seeds a *viper.Viper instance used only to overlay the Http
// sub-object with ALFRED_-prefixed environment variables; Alfred has no
// config file of its own (the whole schema lives in the store file this
// process already loads).
func InitViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ALFRED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("Http.Port")
	_ = v.BindEnv("Http.TooManyRequestsThreshold")
	v.SetDefault("Http.Port", 8100)
	v.SetDefault("Http.TooManyRequestsThreshold", 0.0)
	return v
}

// Decode extracts the "Configuration" key from a loaded document tree,
// merges its Http sub-object into viper (where ALFRED_-prefixed
// environment variables take precedence over the store file's values),
// applies defaults, and validates the result.
func Decode(tree document.Value) (*Configuration, error) {
	v := InitViper()

	raw := tree.Get("Configuration")
	if raw.Kind == document.KindObject {
		if httpRaw, ok := raw.Object["Http"]; ok {
			if m, ok := httpRaw.ToAny().(map[string]any); ok {
				if err := v.MergeConfigMap(map[string]any{"Http": m}); err != nil {
					return nil, fmt.Errorf("merge Http options: %w", err)
				}
			}
		}
	}

	var cfg Configuration
	decodeFromValue(raw, &cfg)

	cfg.Http.Port = v.GetInt("Http.Port")
	cfg.Http.TooManyRequestsThreshold = v.GetFloat64("Http.TooManyRequestsThreshold")

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// decodeFromValue copies the recognised Configuration fields out of a
// dynamic document.Value into the typed struct. It is a small, explicit
// decode rather than a reflection-based mapstructure.Decode because the
// source is already a document.Value tree, not a plain map the rest of the
// config ecosystem understands.
func decodeFromValue(raw document.Value, cfg *Configuration) {
	if raw.Kind != document.KindObject {
		return
	}
	if n, ok := numberField(raw, "MinSaveInterval"); ok {
		cfg.MinSaveInterval = n
	}
	if n, ok := numberField(raw, "RequestTimeoutSeconds"); ok {
		cfg.RequestTimeoutSeconds = n
	}
	if s, ok := stringField(raw, "SslCertificate"); ok {
		cfg.SslCertificate = s
	}
	if s, ok := stringField(raw, "SslKey"); ok {
		cfg.SslKey = s
	}
	if s, ok := stringField(raw, "SslKeyPassphrase"); ok {
		cfg.SslKeyPassphrase = s
	}
	if s, ok := stringField(raw, "CaCertificates"); ok {
		cfg.CaCertificates = s
	}
	if s, ok := stringField(raw, "LogFile"); ok {
		cfg.LogFile = s
	}
	if n, ok := numberField(raw, "WebSocketMaxFrameSize"); ok {
		cfg.WebSocketMaxFrameSize = int(n)
	}
	if n, ok := numberField(raw, "WebSocketAuthenticationTimeout"); ok {
		cfg.WebSocketAuthenticationTimeout = n
	}
	if n, ok := numberField(raw, "WebSocketCloseLinger"); ok {
		cfg.WebSocketCloseLinger = n
	}
	if thresholds, ok := raw.Object["DiagnosticReportingThresholds"]; ok && thresholds.Kind == document.KindObject {
		cfg.DiagnosticReportingThresholds = make(map[string]int, len(thresholds.Object))
		for k, v := range thresholds.Object {
			if v.Kind == document.KindNumber {
				cfg.DiagnosticReportingThresholds[k] = int(v.Number)
			}
		}
	}
}

func numberField(raw document.Value, key string) (float64, bool) {
	v, ok := raw.Object[key]
	if !ok || v.Kind != document.KindNumber {
		return 0, false
	}
	return v.Number, true
}

func stringField(raw document.Value, key string) (string, bool) {
	v, ok := raw.Object[key]
	if !ok || v.Kind != document.KindString {
		return "", false
	}
	return v.String, true
}
