package ports

import "github.com/ilegault/TDS-T8/internal/domain"

// EventJournal is the durable append-only record of safety and run
// transitions.
type EventJournal interface {
	Append(e domain.Event) error
	Replay(fn func(e domain.Event) error) error
}
