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

package epoch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/event"
)

const (
	DefaultTickInterval    = time.Second
	DefaultRefreshInterval = time.Minute
	DefaultRetryInterval   = 5 * time.Second
)

// Epoch is the voting period as last observed on the ledger. The ledger owns
// transitions; the clock only observes them.
type Epoch struct {
	Start time.Time
	End   time.Time
	Open  bool
}

// Executor runs a group of reads. It is satisfied by *batch.Executor.
type Executor interface {
	Execute(ctx context.Context, calls []contract.Call) ([]contract.Result, error)
}

type ClockConfig struct {
	Executor Executor
	EventBus *event.EventBus
	Logger   *slog.Logger
	// TickInterval is the countdown resolution
	TickInterval time.Duration
	// RefreshInterval is how often the run loop re-reads the epoch while
	// the countdown is running
	RefreshInterval time.Duration
	// RetryInterval is how often the run loop re-reads the epoch once the
	// countdown has reached zero and the ledger has not moved on yet
	RetryInterval time.Duration
}

// Clock tracks the current epoch and drives a local countdown between
// remote refreshes. It never extrapolates: once the countdown reaches zero
// the epoch has to be re-read from the ledger.
type Clock struct {
	config      ClockConfig
	mu          sync.RWMutex
	current     Epoch
	known       bool
	subscribers []chan Countdown
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
	wg          sync.WaitGroup
	nowFunc     func() time.Time
}

func NewClock(cfg ClockConfig) (*Clock, error) {
	if cfg.Executor == nil {
		return nil, errors.New("no executor configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Clock{
		config:  cfg,
		nowFunc: time.Now,
	}, nil
}

// Refresh reads the epoch from the ledger. When the read fails the last
// known epoch is returned and the failure is logged; an error is returned
// only if no epoch has ever been read. The caller that first observes a new
// epoch end publishes the rollover, whether or not the clock loop is running.
func (c *Clock) Refresh(ctx context.Context) (Epoch, error) {
	ep, err := c.fetch(ctx)
	if err != nil {
		c.mu.RLock()
		last, known := c.current, c.known
		c.mu.RUnlock()
		if !known {
			return Epoch{}, err
		}
		c.config.Logger.Warn(
			"failed to refresh epoch, using last known value",
			"component", "epoch",
			"end", last.End,
			"error", err,
		)
		return last, nil
	}
	c.mu.Lock()
	prev, prevKnown := c.current, c.known
	c.current = ep
	c.known = true
	c.mu.Unlock()
	if prevKnown && !ep.End.Equal(prev.End) {
		c.publishRolled(prev, ep)
	}
	return ep, nil
}

func (c *Clock) publishRolled(prev Epoch, ep Epoch) {
	c.config.Logger.Info(
		"epoch rolled over",
		"component", "epoch",
		"previous_end", prev.End,
		"end", ep.End,
		"open", ep.Open,
	)
	if c.config.EventBus == nil {
		return
	}
	c.config.EventBus.Publish(
		event.EpochRolledEventType,
		event.NewEvent(event.EpochRolledEventType, event.EpochRolledEvent{
			PreviousEnd: prev.End,
			Start:       ep.Start,
			End:         ep.End,
			Open:        ep.Open,
		}),
	)
}

// FetchEpochEnd returns the end of the current epoch, falling back to the
// last known value as Refresh does
func (c *Clock) FetchEpochEnd(ctx context.Context) (time.Time, error) {
	ep, err := c.Refresh(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return ep.End, nil
}

func (c *Clock) fetch(ctx context.Context) (Epoch, error) {
	results, err := c.config.Executor.Execute(ctx, []contract.Call{
		contract.GetEpochStartTimestamp(),
		contract.GetEpochEndTimestamp(),
		contract.IsVotingOpen(),
	})
	if err != nil {
		return Epoch{}, fmt.Errorf("read epoch: %w", err)
	}
	start, err := results[0].Uint64(0)
	if err != nil {
		return Epoch{}, err
	}
	end, err := results[1].Uint64(0)
	if err != nil {
		return Epoch{}, err
	}
	open, err := results[2].Bool(0)
	if err != nil {
		return Epoch{}, err
	}
	return Epoch{
		Start: timestamp(start),
		End:   timestamp(end),
		Open:  open,
	}, nil
}

func timestamp(ts uint64) time.Time {
	if ts == 0 || ts > math.MaxInt64 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0) // #nosec G115
}

// Current returns the last observed epoch without a remote read
func (c *Clock) Current() Epoch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// IsOpen reports whether voting was open at the last observation
func (c *Clock) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known && c.current.Open
}

// Rolled re-reads the epoch and reports whether its end differs from prev
func (c *Clock) Rolled(ctx context.Context, prev Epoch) (bool, Epoch, error) {
	ep, err := c.Refresh(ctx)
	if err != nil {
		return false, prev, err
	}
	return !ep.End.Equal(prev.End), ep, nil
}

// Countdown is the time remaining until an epoch end
type Countdown struct {
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

func (c Countdown) IsZero() bool {
	return c == Countdown{}
}

func (c Countdown) String() string {
	return fmt.Sprintf("%dd %02dh %02dm %02ds", c.Days, c.Hours, c.Minutes, c.Seconds)
}

// CountdownUntil splits the whole seconds between now and end. A past end
// yields a zero countdown.
func CountdownUntil(now time.Time, end time.Time) Countdown {
	remaining := int(end.Sub(now) / time.Second)
	if remaining <= 0 {
		return Countdown{}
	}
	return Countdown{
		Days:    remaining / 86400,
		Hours:   remaining % 86400 / 3600,
		Minutes: remaining % 3600 / 60,
		Seconds: remaining % 60,
	}
}

// StartCountdown emits the countdown to end once per tick interval. The
// channel is closed after the zero countdown has been delivered or when ctx
// is done. The caller is expected to re-fetch the epoch end at zero.
func (c *Clock) StartCountdown(ctx context.Context, end time.Time) <-chan Countdown {
	ch := make(chan Countdown, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(c.config.TickInterval)
		defer ticker.Stop()
		for {
			cd := CountdownUntil(c.nowFunc(), end)
			select {
			case ch <- cd:
			case <-ctx.Done():
				return
			}
			if cd.IsZero() {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
