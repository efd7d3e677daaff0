package config

import "github.com/caarlos0/env/v11"

type Config struct {
	Addr     string `env:"ADDR"      envDefault:":8080"`
	DBPath   string `env:"DB_PATH"   envDefault:"db.sqlite"`
	VaultKey string `env:"VAULT_KEY,required,notEmpty"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := env.Parse(&cfg)
	return cfg, err
}
