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

// Package pricing is a client for the token price and metadata provider.
// Responses are cached per token for a configurable time.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 5 * time.Minute

	maxResponseSize  = 4 << 20
	maxTokenDecimals = 77
)

var (
	ErrUnexpectedStatus = errors.New("unexpected price provider response status")
	ErrUnknownToken     = errors.New("token not known to the price provider")
)

// Token is the price and metadata of one token. PriceUSD is 1e18-scaled.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	PriceUSD *big.Int
}

type tokenResponse struct {
	Address  string `json:"address"`
	PriceUSD string `json:"priceUSD"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
}

type ClientConfig struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	BaseURL    string
	CacheSize  int
	CacheTTL   time.Duration
}

type Client struct {
	config ClientConfig
	cache  *expirable.LRU[common.Address, Token]
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("no price provider URL configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Client{
		config: cfg,
		cache:  expirable.NewLRU[common.Address, Token](cfg.CacheSize, nil, cfg.CacheTTL),
	}, nil
}

// Tokens returns price and metadata for each address. Cached entries are
// served locally and the remainder is fetched in a single request. A token
// the provider does not know fails the whole call with ErrUnknownToken.
func (c *Client) Tokens(
	ctx context.Context,
	addrs []common.Address,
) (map[common.Address]Token, error) {
	ret := make(map[common.Address]Token, len(addrs))
	var missing []common.Address
	for _, addr := range addrs {
		if _, ok := ret[addr]; ok {
			continue
		}
		if token, ok := c.cache.Get(addr); ok {
			ret[addr] = token
			continue
		}
		ret[addr] = Token{}
		missing = append(missing, addr)
	}
	if len(missing) == 0 {
		return ret, nil
	}
	fetched, err := c.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, addr := range missing {
		token, ok := fetched[addr]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
		}
		c.cache.Add(addr, token)
		ret[addr] = token
	}
	return ret, nil
}

func (c *Client) fetch(
	ctx context.Context,
	addrs []common.Address,
) (map[common.Address]Token, error) {
	hexAddrs := make([]string, len(addrs))
	for i, addr := range addrs {
		hexAddrs[i] = addr.Hex()
	}
	query := url.Values{}
	query.Set("addresses", strings.Join(hexAddrs, ","))
	reqURL := strings.TrimRight(c.config.BaseURL, "/") + "/tokens?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query price provider: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	var tokens []tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode price provider response: %w", err)
	}
	ret := make(map[common.Address]Token, len(tokens))
	for _, tr := range tokens {
		if !common.IsHexAddress(tr.Address) {
			return nil, fmt.Errorf("invalid token address %q", tr.Address)
		}
		if tr.Decimals > maxTokenDecimals {
			return nil, fmt.Errorf("token %s: unsupported decimals %d", tr.Address, tr.Decimals)
		}
		price, err := fixedpoint.ParseDecimal(tr.PriceUSD, fixedpoint.Decimals)
		if err != nil {
			return nil, fmt.Errorf("token %s price: %w", tr.Address, err)
		}
		addr := common.HexToAddress(tr.Address)
		ret[addr] = Token{
			Address:  addr,
			Symbol:   tr.Symbol,
			Decimals: tr.Decimals,
			PriceUSD: price,
		}
	}
	c.config.Logger.Debug(
		"fetched token prices",
		"component", "pricing",
		"requested", len(addrs),
		"received", len(ret),
	)
	return ret, nil
}

// ValueUSD returns the 1e18-scaled USD value of amount raw token units
func (t Token) ValueUSD(amount *big.Int) *big.Int {
	if t.PriceUSD == nil || amount == nil {
		return new(big.Int)
	}
	return fixedpoint.MulDiv(amount, t.PriceUSD, fixedpoint.TokenUnit(t.Decimals))
}
