package database

import (
	"fmt"
	"net/url"
	"time"
)

// Config представляет конфигурацию подключения к базе данных
type Config struct {
	Host        string        `env:"DB_HOST" env-default:"localhost"`
	Port        int           `env:"DB_PORT" env-default:"5432"`
	User        string        `env:"DB_USER" env-default:"postgres"`
	Password    string        `env:"DB_PASSWORD" env-default:"postgres"`
	DBName      string        `env:"DB_NAME" env-default:"fiction"`
	SSLMode     string        `env:"DB_SSL_MODE" env-default:"disable"`
	MaxConns    int           `env:"DB_MAX_CONNECTIONS" env-default:"10"`
	IdleTimeout time.Duration `env:"DB_MAX_IDLE_TIME" env-default:"5m"`
}

// DSN возвращает строку подключения в формате URL (её понимают pgx, lib/pq и migrate)
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}
