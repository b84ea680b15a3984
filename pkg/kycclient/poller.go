package kycclient

import (
	"context"
	"time"
)

// Poll re-fetches the list on a fixed interval until ctx is cancelled.
// Dashboards run one poll per mounted view and cancel on unmount so a
// stale fetch can never update dead state. Fetch errors are recorded
// on the store and polling continues.
func (s *Store) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Fetch(ctx)
		}
	}
}
