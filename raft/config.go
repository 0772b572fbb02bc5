package raft

import "time"

// Config holds the tunables pyraft's Settings dataclass exposed
// (pyraft/config.py), carried over with the same defaults and the same
// derivation rules: StepDownInterval = HeartbeatInterval *
// StepDownMissedHeartbeats, ElectionInterval spans
// [StepDownInterval, StepDownInterval*ElectionIntervalSpread).
type Config struct {
	// HeartbeatInterval is how often a Leader sends AppendEntries (with or
	// without entries) to its followers.
	HeartbeatInterval time.Duration

	// StepDownMissedHeartbeats sets T_stepdown = HeartbeatInterval *
	// StepDownMissedHeartbeats, the leader-side quorum-liveness deadline.
	StepDownMissedHeartbeats int

	// ElectionIntervalSpread is the multiplier defining the upper bound of
	// the randomised election timeout range: [T_stepdown, T_stepdown *
	// ElectionIntervalSpread).
	ElectionIntervalSpread int

	// AppendEntriesMaxBatch caps entries carried in a single AppendEntries
	// (pyraft's APPEND_ENTRIES_MAX_NUM).
	AppendEntriesMaxBatch int

	// CipherEnabled turns on the optional per-datagram symmetric cipher.
	CipherEnabled bool

	// CipherSecret is the shared key material for the cipher, when enabled.
	CipherSecret string
}

// DefaultConfig mirrors pyraft's Settings() defaults: 0.3s heartbeat, 5
// missed heartbeats before step-down (1.5s), a 3x election spread, and a
// 3-entry append batch cap.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:        300 * time.Millisecond,
		StepDownMissedHeartbeats: 5,
		ElectionIntervalSpread:   3,
		AppendEntriesMaxBatch:    3,
		CipherEnabled:            false,
	}
}

// StepDownInterval is T_stepdown: the leader demotes itself if it hasn't
// heard from a majority within this long.
func (c Config) StepDownInterval() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.StepDownMissedHeartbeats)
}

// electionTimeout draws a fresh randomised duration in
// [T_stepdown, T_stepdown*spread), per spec.md §4.5.
func (c Config) electionTimeout() time.Duration {
	lo := c.StepDownInterval()
	spread := c.ElectionIntervalSpread
	if spread < 2 {
		spread = 2
	}
	hi := lo * time.Duration(spread)
	return lo + randDuration(hi-lo)
}
