// Package leadership implements the controller-leadership service (spec
// component 4.D): a single active-controller record with heartbeat-expiry,
// and a durable change-notification that every instance polls and turns
// into an active-controller broadcast to its locally attached synths.
package leadership

import (
	"time"

	"github.com/patchline/relay/internal/kv"
)

var controllerRecordKey = kv.Key{"leadership", "controller"}
var changeNotificationKey = kv.Key{"leadership", "notification"}

// Record is the durable ControllerRecord: at most one exists at a time.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ActivatedAt time.Time `json:"activatedAt"`
	InstanceID  string    `json:"instanceId"`
}

// expired reports whether now is past the heartbeat timeout measured from
// the record's last-heartbeat timestamp.
func (r Record) expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.Timestamp) > timeout
}

// ChangeNotification announces a leadership transition. ControllerID is nil
// to mean "no active controller".
type ChangeNotification struct {
	ControllerID   *string   `json:"controllerId"`
	NotificationID string    `json:"notificationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// stale reports whether the notification is older than maxAge.
func (n ChangeNotification) stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(n.Timestamp) > maxAge
}
