package config

import "time"

type Config struct {
	Secret     string
	SessionTTL time.Duration
}
