// internal/notify/notify.go
package notify

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/harborline/meridian/internal/region"
)

// Channel and key names shared with fleet consumers.
const (
	ChannelRegionChange = "meridian:events:region_change"
	KeyCurrentRegion    = "meridian:current_region"
)

// EventRegionChange is the event name carried in published payloads.
const EventRegionChange = "region_change"

// CurrentRegionTTL bounds how long the current-region hint lives without a
// refresh. The key is a cache hint, not the source of truth.
const CurrentRegionTTL = time.Hour

// Event is the payload published on region change.
type Event struct {
	Event     string    `json:"event"`
	NewRegion string    `json:"new_region"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier broadcasts active-region changes to the fleet.
type Notifier interface {
	RegionChanged(ctx context.Context, newRegion region.Region, at time.Time) error
	Close() error
}

// NopNotifier discards notifications. Used when no pub/sub backend is
// configured.
type NopNotifier struct{}

// RegionChanged implements Notifier.
func (NopNotifier) RegionChanged(context.Context, region.Region, time.Time) error {
	return nil
}

// Close implements Notifier.
func (NopNotifier) Close() error {
	return nil
}

// Multi fans a notification out to several backends. Every backend is
// attempted regardless of earlier failures; errors are combined.
type Multi struct {
	notifiers []Notifier
}

// NewMulti combines notifiers into one.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// RegionChanged implements Notifier.
func (m *Multi) RegionChanged(ctx context.Context, newRegion region.Region, at time.Time) error {
	var errs error
	for _, n := range m.notifiers {
		if err := n.RegionChanged(ctx, newRegion, at); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Close implements Notifier.
func (m *Multi) Close() error {
	var errs error
	for _, n := range m.notifiers {
		errs = multierr.Append(errs, n.Close())
	}
	return errs
}
