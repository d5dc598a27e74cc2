package config

type Config struct {
	WalletAddr    string
	UpdateRetries int
}
