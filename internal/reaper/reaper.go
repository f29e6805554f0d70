// Package reaper implements the removal of synth records that no longer
// have a live WebRTC peer connection to any controller (spec component
// 4.E). It owns the ActiveWebRTCMap — per-instance, in-memory only, and
// deliberately not replicated: each instance reaps only what it can prove
// absent from its own view of controller-reported connections.
package reaper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patchline/relay/internal/common/cnst"
	"github.com/patchline/relay/internal/registry"
)

// Metrics is the eviction counter a Reaper reports through.
type Metrics interface {
	ReaperEvicted()
}

// Reaper runs the sweep procedure described in 4.E. Eviction itself goes
// through registry.Unregister, which already emits the client-disconnected
// notification to controllers per 4.B — the reaper does not duplicate it.
type Reaper struct {
	logger   *zap.Logger
	registry *registry.Registry
	metrics  Metrics

	mu  sync.Mutex
	web map[string]map[string]struct{} // controllerID -> set of synthIDs
}

// New constructs a Reaper.
func New(logger *zap.Logger, reg *registry.Registry) *Reaper {
	return &Reaper{
		logger:   logger.Named("reaper"),
		registry: reg,
		web:      make(map[string]map[string]struct{}),
	}
}

// SetMetrics attaches the eviction counter. Optional.
func (r *Reaper) SetMetrics(m Metrics) {
	r.metrics = m
}

// UpdateConnections replaces controllerID's reported peer set, called on
// every "controller-connections" frame.
func (r *Reaper) UpdateConnections(controllerID string, synthIDs []string) {
	set := make(map[string]struct{}, len(synthIDs))
	for _, id := range synthIDs {
		set[id] = struct{}{}
	}
	r.mu.Lock()
	r.web[controllerID] = set
	r.mu.Unlock()
}

// PeerConnected reports whether any controller's ActiveWebRTCMap contains
// id. Passed as the callback to registry.ListSynths.
func (r *Reaper) PeerConnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.web {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// union returns every synth id appearing in any controller's ActiveWebRTCMap.
func (r *Reaper) union() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]struct{})
	for _, set := range r.web {
		for id := range set {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sweep implements the 4.E procedure: computes the union of synth ids
// across every controller's ActiveWebRTCMap, enumerates all synth
// ClientRecords, keeps anyone still inside their grace period, and deletes
// (with a client-disconnected notification) anyone outside both the grace
// period and the union.
func (r *Reaper) Sweep(ctx context.Context) {
	union := r.union()

	listings, err := r.registry.ListSynths(ctx, func(id string) bool {
		_, ok := union[id]
		return ok
	})
	if err != nil {
		r.logger.Warn("sweep failed to list synths", zap.Error(err))
		return
	}

	now := time.Now()
	evicted := 0
	for _, listing := range listings {
		if now.Sub(listing.ConnectionTimestamp) < cnst.GracePeriod {
			continue
		}
		if listing.PeerConnected {
			continue
		}
		if err := r.registry.Unregister(ctx, listing.ID); err != nil {
			r.logger.Warn("sweep failed to unregister synth", zap.String("id", listing.ID), zap.Error(err))
			continue
		}
		evicted++
		if r.metrics != nil {
			r.metrics.ReaperEvicted()
		}
		r.logger.Info("reaped synth with no active WebRTC peer", zap.String("id", listing.ID))
	}
	if evicted > 0 {
		r.logger.Debug("sweep complete", zap.Int("evicted", evicted), zap.Int("candidates", len(listings)))
	}
}

// ScheduleDelayedSweep runs Sweep once, after the grace period, on
// "controller-activate" per 4.C. The caller is responsible for giving this
// goroutine a context that outlives the delay.
func (r *Reaper) ScheduleDelayedSweep(ctx context.Context) {
	timer := time.NewTimer(cnst.GracePeriod)
	go func() {
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			r.Sweep(ctx)
		}
	}()
}
