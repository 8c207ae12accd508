package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Presence  PresenceConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	MaxConnsPerIP   int                   `mapstructure:"maxConnsPerIP"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

// ConnectionLimitConfig bounds how many live connections a single user may
// hold at once. Mode "reject" refuses the newest connection, "cycle" closes
// the oldest one to make room.
type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type PresenceConfig struct {
	Mirror MirrorConfig `mapstructure:"mirror"`
}

// MirrorConfig enables the Redis-backed presence mirror used when more than
// one process serves connections. The in-memory registry stays authoritative
// for the local process either way.
type MirrorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}
