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
	"time"
)

// Start begins the clock loop, which keeps the countdown running for
// subscribers, refreshes the epoch periodically and re-fetches it once the
// countdown reaches zero. Returns immediately.
func (c *Clock) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()
}

// Stop halts the clock loop and closes all subscriber channels
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
	c.mu.Unlock()
}

// Subscribe returns a channel receiving a countdown on every tick of the
// clock loop. Ticks are dropped for subscribers that are not keeping up.
func (c *Clock) Subscribe() <-chan Countdown {
	ch := make(chan Countdown, 1)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

func (c *Clock) Unsubscribe(ch <-chan Countdown) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subscribers {
		if sub == ch {
			close(sub)
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

func (c *Clock) run() {
	defer c.wg.Done()
	logger := c.config.Logger.With("component", "epoch")
	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	c.refresh(c.ctx)
	lastRefresh := c.nowFunc()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		now := c.nowFunc()
		cd := CountdownUntil(now, c.Current().End)
		c.emit(cd)
		sinceRefresh := now.Sub(lastRefresh)
		if (cd.IsZero() && sinceRefresh >= c.config.RetryInterval) ||
			sinceRefresh >= c.config.RefreshInterval {
			if cd.IsZero() {
				logger.Debug("epoch countdown reached zero, re-fetching epoch")
			}
			c.refresh(c.ctx)
			lastRefresh = now
		}
	}
}

func (c *Clock) refresh(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil {
		c.config.Logger.Error(
			"failed to read epoch",
			"component", "epoch",
			"error", err,
		)
	}
}

func (c *Clock) emit(cd Countdown) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- cd:
		default:
		}
	}
}
