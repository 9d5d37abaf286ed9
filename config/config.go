package config

// Config represents the core inflow configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Import   ImportConfig   `mapstructure:"import"`
	Monday   MondayConfig   `mapstructure:"monday"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ImportConfig configures import pipeline behavior
type ImportConfig struct {
	// DefaultActor is recorded as the event actor when the caller
	// does not supply one
	DefaultActor string `mapstructure:"default_actor"`

	// SchemaMatchThreshold is the minimum score for a schema match
	// to bind an item to an existing record definition
	SchemaMatchThreshold float64 `mapstructure:"schema_match_threshold"`
}

// MondayConfig configures the Monday.com connector
type MondayConfig struct {
	APIToken string `mapstructure:"api_token"`
	BaseURL  string `mapstructure:"base_url"`

	// RequestsPerMinute throttles the GraphQL client. Monday enforces a
	// complexity budget per minute; bursts get whole boards rate-limited.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}
