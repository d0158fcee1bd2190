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

package node

import (
	"io"
	"log/slog"
	"testing"

	"github.com/blinklabs-io/tally/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	testDefs := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg: config.Config{
				RPCURL: "http://localhost:8545",
				Contracts: config.ContractsConfig{
					GaugeController: "0x00000000000000000000000000000000000000c0",
					Voting:          "0x00000000000000000000000000000000000000b0",
				},
			},
		},
		{
			name: "malformed address",
			cfg: config.Config{
				RPCURL: "http://localhost:8545",
				Contracts: config.ContractsConfig{
					GaugeController: "0xc0",
					Voting:          "0xzz",
				},
			},
			wantErr: true,
		},
		{
			name: "missing rpc url",
			cfg: config.Config{
				Contracts: config.ContractsConfig{
					GaugeController: "0x00000000000000000000000000000000000000c0",
					Voting:          "0x00000000000000000000000000000000000000b0",
				},
			},
			wantErr: true,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			engine, err := NewEngine(&testDef.cfg, logger)
			if testDef.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, engine)
		})
	}
}
