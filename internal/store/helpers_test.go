package store_test

import (
	"time"

	"github.com/kiranshivaraju/vista/internal/config"
)

func configFor(url string) config.DatabaseConfig {
	return config.DatabaseConfig{
		URL:             url,
		MaxOpenConns:    5,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}
}
