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

package indexer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blinklabs-io/tally/indexer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testController = common.HexToAddress("0x00000000000000000000000000000000000c0c0a")

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions", r.URL.Path)
		assert.Equal(t, testController.Hex(), r.URL.Query().Get("to"))
		assert.Equal(t, indexer.AddGaugeCallName, r.URL.Query().Get("call"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGaugeAdditions(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `[
		{"callName":"addGauge","args":["Stables","1000"],"timestamp":1700000300},
		{"callName":"addGauge","args":["Bridges","2000"],"timestamp":1700000100},
		{"callName":"addGauge","args":["Stables","1000"],"timestamp":1700000200},
		{"callName":"addGauge","args":[],"timestamp":1700000400},
		{"callName":"pauseGauge","args":["Bridges"],"timestamp":1700000500}
	]`)
	client, err := indexer.NewClient(indexer.ClientConfig{
		BaseURL:    srv.URL + "/",
		Controller: testController,
	})
	require.NoError(t, err)
	additions, err := client.GaugeAdditions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []indexer.GaugeAddition{
		{GaugeName: "Stables", Timestamp: 1700000200},
		{GaugeName: "Bridges", Timestamp: 1700000100},
	}, additions)
}

func TestGaugeAdditionsErrors(t *testing.T) {
	testDefs := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"bad json", http.StatusOK, `{"not":"a list"`},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			srv := newTestServer(t, testDef.status, testDef.body)
			client, err := indexer.NewClient(indexer.ClientConfig{
				BaseURL:    srv.URL,
				Controller: testController,
			})
			require.NoError(t, err)
			_, err = client.GaugeAdditions(context.Background())
			require.Error(t, err)
		})
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := indexer.NewClient(indexer.ClientConfig{})
	require.Error(t, err)
}
