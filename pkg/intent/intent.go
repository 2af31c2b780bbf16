// Package intent keeps the pending checkout of a browser session so a
// confirmation can be resumed after navigation or reload.
package intent

import (
	"context"
	"time"
)

// SlotName is the constant key under which a browser session stores its intent
const SlotName = "pending_intent"

// PendingIntent shadows a checkout session that has been started but not confirmed
type PendingIntent struct {
	SessionID     string    `json:"session_id"`
	PackageID     string    `json:"package_id"`
	DisplayAmount string    `json:"display_amount"`
	InitiatedAt   time.Time `json:"initiated_at"`
}

// Cache stores at most one PendingIntent per browser session scope.
// Put overwrites any previous intent for the scope.
type Cache interface {
	Put(ctx context.Context, scope string, in PendingIntent) error
	Get(ctx context.Context, scope string) (*PendingIntent, bool, error)
	Clear(ctx context.Context, scope string) error
	// ClearSession removes the intent only if it still points at sessionID,
	// so a newer checkout started in another tab survives.
	ClearSession(ctx context.Context, scope, sessionID string) (bool, error)
}

func key(scope string) string {
	return SlotName + ":" + scope
}
