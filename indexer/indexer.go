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

// Package indexer is a client for the historical-transaction indexer, used
// to recover when each gauge was added to the governance controller.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultTimeout   = 30 * time.Second
	AddGaugeCallName = "addGauge"

	maxResponseSize = 16 << 20
)

var ErrUnexpectedStatus = errors.New("unexpected indexer response status")

// Record is one decoded transaction as reported by the indexer
type Record struct {
	CallName  string `json:"callName"`
	Args      []any  `json:"args"`
	Timestamp uint64 `json:"timestamp"`
}

// GaugeAddition is the creation time of a gauge, keyed by name
type GaugeAddition struct {
	GaugeName string
	Timestamp uint64
}

type ClientConfig struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	BaseURL    string
	// Controller is the governance controller whose transactions are queried
	Controller common.Address
}

type Client struct {
	config ClientConfig
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("no indexer URL configured")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid indexer URL: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{config: cfg}, nil
}

// Transactions returns the decoded transactions sent to an address that
// invoked the given call
func (c *Client) Transactions(
	ctx context.Context,
	to common.Address,
	callName string,
) ([]Record, error) {
	query := url.Values{}
	query.Set("to", to.Hex())
	query.Set("call", callName)
	reqURL := strings.TrimRight(c.config.BaseURL, "/") + "/transactions?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query indexer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	var records []Record
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode indexer response: %w", err)
	}
	return records, nil
}

// GaugeAdditions returns the creation timestamp of every gauge added to the
// controller. Records without a gauge name are skipped and logged. When a
// name was added more than once the earliest timestamp wins.
func (c *Client) GaugeAdditions(ctx context.Context) ([]GaugeAddition, error) {
	records, err := c.Transactions(ctx, c.config.Controller, AddGaugeCallName)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]int, len(records))
	ret := make([]GaugeAddition, 0, len(records))
	for _, record := range records {
		if record.CallName != AddGaugeCallName {
			continue
		}
		var name string
		if len(record.Args) > 0 {
			name, _ = record.Args[0].(string)
		}
		if name == "" {
			c.config.Logger.Warn(
				"skipping gauge addition without a name",
				"component", "indexer",
				"timestamp", record.Timestamp,
			)
			continue
		}
		if idx, ok := seen[name]; ok {
			if record.Timestamp < ret[idx].Timestamp {
				ret[idx].Timestamp = record.Timestamp
			}
			continue
		}
		seen[name] = len(ret)
		ret = append(ret, GaugeAddition{GaugeName: name, Timestamp: record.Timestamp})
	}
	return ret, nil
}
