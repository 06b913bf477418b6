package transport

import (
	"context"
	"time"
)

// readLoop pumps frames off conn until it closes or errors, publishing
// binary frames and dropping text frames with a warning per §4.1's framing
// rule. gen pins this goroutine to the connection generation that started
// it: if the client has since moved on (explicit disconnect, a newer
// reconnect), an error here is a stale signal and must not trigger another
// transition.
func (c *Client) readLoop(gen uint64, conn wsConn) {
	defer c.wg.Done()

	for {
		kind, data, err := conn.Read(context.Background())
		if err != nil {
			c.handleConnectionLost(gen, CloseAbnormal)
			return
		}
		if kind == frameText {
			c.log.Warn("dropping unexpected text frame")
			continue
		}
		c.dataTopic.Publish(data)
	}
}

// livenessLoop periodically pings conn to verify the stream is still open.
// A failed ping closes the connection with the abnormal code and triggers
// the same loss-handling path as a read error.
func (c *Client) livenessLoop(gen uint64, conn wsConn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.LivenessInterval)
	defer ticker.Stop()

	for range ticker.C {
		if c.currentGeneration() != gen {
			return
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), c.cfg.LivenessInterval)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = conn.Close(CloseAbnormal, "liveness check failed")
			c.handleConnectionLost(gen, CloseAbnormal)
			return
		}
	}
}

// handleConnectionLost is invoked once per stale connection (from whichever
// of readLoop/livenessLoop notices first) after an unexpected close. It
// decides, per §4.1's reconnection policy, whether to schedule a reconnect
// or move to a terminal state.
func (c *Client) handleConnectionLost(gen uint64, code CloseCode) {
	c.mu.Lock()
	if c.generation != gen {
		// A newer connection or an explicit disconnect already superseded
		// this one; nothing to do.
		c.mu.Unlock()
		return
	}
	c.conn = nil

	eligible := !c.reconnectDisabled && !c.clearedByUser && c.cfg.Monitor.Online()
	var next State
	if eligible {
		c.attempt = 0
		next = StateReconnecting
	} else {
		next = StateError
	}
	waiters, changed := c.transitionLocked(next)
	c.mu.Unlock()

	c.announce(next, changed, waiters)

	if eligible {
		c.scheduleReconnect()
	}
}

// onNetworkOnline is the netmonitor subscription callback, per §4.2: an
// offline->online edge must not wait out an already-scheduled backoff, and a
// client parked in the terminal error state deserves another chance rather
// than staying stuck until the caller manually reconnects.
func (c *Client) onNetworkOnline(online bool) {
	if !online {
		return
	}

	c.mu.Lock()
	switch c.state {
	case StateReconnecting:
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
		}
		c.mu.Unlock()
		go c.attemptReconnect()

	case StateError:
		if c.clearedByUser || c.reconnectDisabled {
			c.mu.Unlock()
			return
		}
		c.attempt = 0
		waiters, changed := c.transitionLocked(StateReconnecting)
		c.mu.Unlock()
		c.announce(StateReconnecting, changed, waiters)
		go c.attemptReconnect()

	default:
		c.mu.Unlock()
	}
}

// delayForAttempt returns the backoff delay preceding the (attempt+1)-th
// reconnect attempt, clamped to the last configured delay once attempt
// runs past the configured schedule.
func delayForAttempt(attempt int, delays []time.Duration) time.Duration {
	if attempt >= len(delays) {
		attempt = len(delays) - 1
	}
	return delays[attempt]
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	delay := delayForAttempt(c.attempt, c.cfg.ReconnectDelays)
	c.reconnectTimer = time.AfterFunc(delay, c.attemptReconnect)
	c.mu.Unlock()
}

func (c *Client) attemptReconnect() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}

	if !c.cfg.Monitor.Online() {
		// Network still down: wait and try again without consuming an
		// attempt, per §4.1 condition (c).
		c.mu.Unlock()
		c.scheduleReconnect()
		return
	}

	c.attempt++
	attemptNum := c.attempt
	url := c.url
	waiters, changed := c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	c.announce(StateConnecting, changed, waiters)

	conn, err := c.rawDial(context.Background(), url)
	if err != nil {
		c.log.Warn("reconnect attempt failed", "attempt", attemptNum, "error", err)

		if attemptNum >= c.cfg.MaxReconnectAttempts {
			c.mu.Lock()
			w, ch := c.transitionLocked(StateError)
			c.mu.Unlock()
			c.announce(StateError, ch, w)
			return
		}

		c.mu.Lock()
		w, ch := c.transitionLocked(StateReconnecting)
		c.mu.Unlock()
		c.announce(StateReconnecting, ch, w)
		c.scheduleReconnect()
		return
	}

	c.connectSucceeded(conn)
}
