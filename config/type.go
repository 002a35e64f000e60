package config

type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	NATSURL  string `mapstructure:"nats_url"`
	RedisURL string `mapstructure:"redis_url"`

	// Relay auth and media storage.
	JWTSecret    string `mapstructure:"jwt_secret"`
	MediaDir     string `mapstructure:"media_dir"`
	MediaBaseURL string `mapstructure:"media_base_url"`

	// Client-side endpoints.
	ServerURL string `mapstructure:"server_url"`
	APIURL    string `mapstructure:"api_url"`
}
