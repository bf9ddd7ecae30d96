// Package adapters holds the per-source fetch drivers. Every adapter speaks
// the same contract: Fetch returns the verbatim payload bytes for one data
// type, RegisterChangeNotifications subscribes provider callbacks where the
// source supports them.
package adapters

import (
	"context"
	"time"

	"civicsync/internal/models"
)

// RawPayload is the uniform fetch result handed to the source-ref store.
// Body is the provider's bytes, verbatim.
type RawPayload struct {
	Source    string
	DataType  string
	SourceKey string
	Body      []byte
	FetchedAt time.Time
}

// Adapter is one source driver.
type Adapter interface {
	Source() string
	DataTypes() []string
	Fetch(ctx context.Context, conn *models.Connection, dataType string) (*RawPayload, error)
	RegisterChangeNotifications(ctx context.Context, conn *models.Connection, callbackBase string) ([]string, error)
}
