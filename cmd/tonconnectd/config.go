package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/omeid/uconfig"
	"github.com/rs/zerolog/log"
)

// configFilename is the filename of the config file automatically loaded,
// when present in the working directory.
var configFilename = "config.json"

type config struct {
	HTTP struct {
		Port            string   `default:"8080"`
		RateLimInterval string   `default:"1s"`
		MaxRequestPerIP uint64   `default:"10"`
		APIKeys         []string
	}
	Storage struct {
		Backend     string `default:"sqlite"` // memory, sqlite, redis or postgres
		Codec       string `default:"json"`   // json or msgpack
		SQLitePath  string `default:"tonconnect.db"`
		Compression bool   `default:"false"`
		RedisURL    string `default:"redis://localhost:6379/0"`
		RedisPrefix string `default:"tonconnect"`
		PostgresDSN string `default:""`
		PGTable     string `default:"tonconnect_kv"`
		PGMaxConns  int    `default:"10"`
	}
	Bridge struct {
		Mode string `default:"http"` // http or loopback
		URL string `default:"https://bridge.tonapi.io/bridge"`
		TTL string `default:"5m"`
	}
	Toncenter struct {
		URL    string `default:"https://toncenter.com/api/v3"`
		APIKey string `default:""`
	}
	Wallets []WalletConfig
	Pending struct {
		TTL string `default:"10m"`
	}
	Processor struct {
		MaxRetries        int      `default:"3"`
		RetryDelay        string   `default:"1s"`
		ProcessingTimeout string   `default:"5m"`
		RecoveryInterval  string   `default:"30s"`
		Retention         string   `default:"168h"`
		CleanupInterval   string   `default:"1h"`
		EnabledEventTypes []string
		WebhookURL        string   `default:""`
	}
	Backup struct {
		Enabled     bool   `default:"false"`
		Dir         string `default:"backups"`
		Frequency   string `default:"1h"`
		Compression bool   `default:"true"`
		Vacuum      bool   `default:"false"`
		KeepFiles   int    `default:"5"`
	}
	Metrics struct {
		Port string `default:"9090"`
	}
	Log struct {
		Level string `default:"info"`
		Human bool   `default:"false"`
	}
}

// WalletConfig describes a wallet managed by the daemon.
type WalletConfig struct {
	Seed    string // hex encoded ed25519 seed
	Network string `default:"mainnet"` // mainnet or testnet
}

func setupConfig() *config {
	conf := &config{}
	confFiles := uconfig.Files{}
	if _, err := os.Stat(configFilename); err == nil {
		confFiles = append(confFiles, uconfig.Files{{configFilename, json.Unmarshal}}...)
	}

	c, err := uconfig.Classic(conf, confFiles)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		c.Usage()
		os.Exit(1)
	}

	return conf
}

func mustParseDuration(name, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatal().Err(err).Msgf("%s has invalid format: %s", name, value)
	}
	return d
}
