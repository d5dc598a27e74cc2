package config

type Config struct {
	DBDsn     string
	RedisAddr string
	RedisKey  string
}
