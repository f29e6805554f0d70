// Package cnst holds the constants shared across the relay core.
package cnst

import "time"

const (
	// ClientTTL is how long a ClientRecord survives in the KV store without
	// a refreshing register/heartbeat/message before it auto-expires.
	ClientTTL = 10 * time.Minute

	// QueueTTL is how long a QueuedMessage survives before it is discarded
	// as orphaned (its recipient never returned to drain it).
	QueueTTL = 5 * time.Minute

	// HeartbeatTimeout is the single authoritative leadership heartbeat
	// timeout. The upstream source this was distilled from carried two
	// different values across modules; this implementation picks one.
	HeartbeatTimeout = 30 * time.Second

	// GracePeriod is how long a newly-registered synth is immune to the
	// reaper, measured from its ClientRecord's ConnectionTimestamp.
	GracePeriod = 15 * time.Second

	// NotificationStaleAfter is the maximum age of a ChangeNotification
	// that a poller will still act on; older ones are silently discarded.
	NotificationStaleAfter = 30 * time.Second

	// DefaultPollInterval is the default cadence of the per-instance
	// leadership-notification poller.
	DefaultPollInterval = 1 * time.Second

	// DefaultOutboundPollInterval is the cadence of the per-socket queued
	// message drain timer.
	DefaultOutboundPollInterval = 500 * time.Millisecond

	// ReplaceCloseWait is how long register() waits for a replaced local
	// socket's close to run before continuing.
	ReplaceCloseWait = 100 * time.Millisecond
)

const (
	// ControllerIDPrefix is the literal prefix that marks a client id as a
	// controller. Presence of the prefix is the sole signal of client type.
	ControllerIDPrefix = "controller-"
	// SynthIDPrefix is the literal prefix that marks a client id as a synth.
	SynthIDPrefix = "synth-"
)

// IsController reports whether id carries the controller prefix.
func IsController(id string) bool {
	return len(id) >= len(ControllerIDPrefix) && id[:len(ControllerIDPrefix)] == ControllerIDPrefix
}

// IsSynth reports whether id carries the synth prefix.
func IsSynth(id string) bool {
	return len(id) >= len(SynthIDPrefix) && id[:len(SynthIDPrefix)] == SynthIDPrefix
}
