package ports

import (
	"context"

	"github.com/ilegault/TDS-T8/internal/domain"
)

// SensorReader delivers one pass over every configured sensor. A missing map
// entry is treated by the control loop exactly like Valid=false. The call must
// honor ctx so a stuck instrument link cannot stall the tick.
type SensorReader interface {
	ReadAll(ctx context.Context) (map[string]domain.Reading, error)
}
