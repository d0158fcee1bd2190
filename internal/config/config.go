// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/tally/batch"
	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/pricing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "tally.config"

const (
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRefreshInterval = 5 * time.Minute
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	Contracts         ContractsConfig `yaml:"contracts"`
	Batch             BatchConfig     `yaml:"batch"`
	RPCURL            string          `yaml:"rpcUrl"            envconfig:"RPC_URL"`
	IndexerURL        string          `yaml:"indexerUrl"        envconfig:"INDEXER_URL"`
	PriceURL          string          `yaml:"priceUrl"          envconfig:"PRICE_URL"`
	DatabasePath      string          `yaml:"databasePath"                                split_words:"true"`
	BindAddr          string          `yaml:"bindAddr"                                    split_words:"true"`
	PriceCacheTTL     time.Duration   `yaml:"priceCacheTtl"     envconfig:"PRICE_CACHE_TTL"`
	RefreshInterval   time.Duration   `yaml:"refreshInterval"                             split_words:"true"`
	ShutdownTimeout   time.Duration   `yaml:"shutdownTimeout"                             split_words:"true"`
	ConfirmationDepth uint64          `yaml:"confirmationDepth"                           split_words:"true"`
	MetricsPort       uint            `yaml:"metricsPort"                                 split_words:"true"`
	Tracing           bool            `yaml:"tracing"`
	TracingStdout     bool            `yaml:"tracingStdout"                               split_words:"true"`
}

// ContractsConfig holds the contract deployment addresses. An empty value
// marks a contract as not deployed on the active network.
type ContractsConfig struct {
	GaugeController  string `yaml:"gaugeController"  split_words:"true"`
	Voting           string `yaml:"voting"`
	BribeController  string `yaml:"bribeController"  split_words:"true"`
	UnderwritingPool string `yaml:"underwritingPool" split_words:"true"`
}

type BatchConfig struct {
	ChunkSize   int           `yaml:"chunkSize"   split_words:"true"`
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"maxAttempts" split_words:"true"`
	RetryBase   time.Duration `yaml:"retryBase"   split_words:"true"`
	RetryMax    time.Duration `yaml:"retryMax"    split_words:"true"`
}

// Addresses parses the configured contract addresses
func (c ContractsConfig) Addresses() (contract.Addresses, error) {
	var ret contract.Addresses
	for _, tmp := range []struct {
		name  string
		value string
		dest  *common.Address
	}{
		{"gaugeController", c.GaugeController, &ret.GaugeController},
		{"voting", c.Voting, &ret.Voting},
		{"bribeController", c.BribeController, &ret.BribeController},
		{"underwritingPool", c.UnderwritingPool, &ret.UnderwritingPool},
	} {
		if tmp.value == "" {
			continue
		}
		if !common.IsHexAddress(tmp.value) {
			return contract.Addresses{}, fmt.Errorf(
				"invalid %s contract address: %q",
				tmp.name,
				tmp.value,
			)
		}
		*tmp.dest = common.HexToAddress(tmp.value)
	}
	return ret, nil
}

func defaultConfig() *Config {
	return &Config{
		Batch: BatchConfig{
			ChunkSize:   batch.DefaultChunkSize,
			Concurrency: batch.DefaultConcurrency,
			MaxAttempts: batch.DefaultMaxAttempts,
			RetryBase:   batch.DefaultRetryBase,
			RetryMax:    batch.DefaultRetryMax,
		},
		DatabasePath:      ".tally",
		BindAddr:          "0.0.0.0",
		MetricsPort:       12799,
		PriceCacheTTL:     pricing.DefaultCacheTTL,
		RefreshInterval:   DefaultRefreshInterval,
		ShutdownTimeout:   DefaultShutdownTimeout,
		ConfirmationDepth: contract.DefaultConfirmationDepth,
	}
}

var globalConfig = defaultConfig()

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.tally/tally.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".tally", "tally.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/tally/tally.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/tally/tally.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	if err := envconfig.Process("tally", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := globalConfig.validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func (c *Config) validate() error {
	if _, err := c.Contracts.Addresses(); err != nil {
		return err
	}
	if c.Batch.ChunkSize < 0 || c.Batch.Concurrency < 0 || c.Batch.MaxAttempts < 0 {
		return fmt.Errorf(
			"invalid batch settings: chunkSize=%d concurrency=%d maxAttempts=%d",
			c.Batch.ChunkSize,
			c.Batch.Concurrency,
			c.Batch.MaxAttempts,
		)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("invalid refreshInterval: %s", c.RefreshInterval)
	}
	return nil
}

func GetConfig() *Config {
	return globalConfig
}
