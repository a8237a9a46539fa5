package ports

import "github.com/ilegault/TDS-T8/internal/domain"

// SnapshotObserver receives each published tick snapshot. Publish is push-only
// and must return promptly; observers that do real I/O buffer internally, the
// control loop never waits on them.
type SnapshotObserver interface {
	Publish(s *domain.Snapshot)
}
