// Package config provides the Configuration schema embedded under the
// store file's "Configuration" top-level key (spec §6). Unlike the
// teacher's OSSConfig, which is its own YAML file, Alfred has no separate
// config file — the whole schema lives inside the document Alfred already
// persists, plus an environment-variable overlay for the Http sub-object.
package config

// Configuration mirrors the "Configuration" object recognised in the store
// file (spec §6).
type Configuration struct {
	// MinSaveInterval is the minimum number of seconds between successive
	// writes of the backing file (spec §4.2's coalesced save). Defaults
	// to 60 when absent or zero.
	MinSaveInterval float64 `mapstructure:"MinSaveInterval" validate:"gte=0"`

	// RequestTimeoutSeconds bounds outbound HTTP transactions (e.g. the
	// Twitch OAuth validation request).
	RequestTimeoutSeconds float64 `mapstructure:"RequestTimeoutSeconds" validate:"gte=0"`

	SslCertificate   string `mapstructure:"SslCertificate"`
	SslKey           string `mapstructure:"SslKey"`
	SslKeyPassphrase string `mapstructure:"SslKeyPassphrase"`
	CaCertificates   string `mapstructure:"CaCertificates"`
	LogFile          string `mapstructure:"LogFile"`

	// DiagnosticReportingThresholds maps a component name to the minimum
	// slog level (as an integer severity floor) that component logs at.
	DiagnosticReportingThresholds map[string]int `mapstructure:"DiagnosticReportingThresholds"`

	// Http holds server options merged over defaults (Port=8100,
	// TooManyRequestsThreshold=0.0) by the viper overlay in Decode.
	Http HttpOptions `mapstructure:"Http"`

	// WebSocketMaxFrameSize bounds the size of a single WS frame accepted
	// by the listener.
	WebSocketMaxFrameSize int `mapstructure:"WebSocketMaxFrameSize" validate:"gte=0"`

	// WebSocketAuthenticationTimeout is how long a session may stay in
	// AwaitingAuth before the listener drops it (spec §4.3).
	WebSocketAuthenticationTimeout float64 `mapstructure:"WebSocketAuthenticationTimeout" validate:"gt=0"`

	// WebSocketCloseLinger is the delay between closing a session and
	// erasing its record (spec §4.4).
	WebSocketCloseLinger float64 `mapstructure:"WebSocketCloseLinger" validate:"gte=0"`
}

// HttpOptions holds the two recognised Http server options, typed as a
// port number and a float threshold, merged over defaults Port=8100 and
// TooManyRequestsThreshold=0.0. Other keys in the Http sub-object are not
// decoded.
type HttpOptions struct {
	Port                     int     `mapstructure:"Port" validate:"gt=0,lte=65535"`
	TooManyRequestsThreshold float64 `mapstructure:"TooManyRequestsThreshold" validate:"gte=0"`
}

// SetDefaults fills the zero-valued fields spec §6 documents as having
// non-zero defaults. Called before validation, after the raw document has
// been decoded into Configuration.
func (c *Configuration) SetDefaults() {
	if c.MinSaveInterval == 0 {
		c.MinSaveInterval = 60
	}
	if c.WebSocketAuthenticationTimeout == 0 {
		c.WebSocketAuthenticationTimeout = 30
	}
	if c.Http.Port == 0 {
		c.Http.Port = 8100
	}
}
