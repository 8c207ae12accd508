// Package mirror replicates presence state to a shared store so that a
// horizontally-scaled deployment can see which users are online across
// processes. The in-process registry remains the authority for the
// connections this process owns; the mirror is best-effort.
package mirror

import "context"

type Mirror interface {
	// SetOnline records a live connection for a user.
	SetOnline(ctx context.Context, userID, connID string) error
	// SetOffline removes a connection; the user leaves the shared online set
	// when no connections remain anywhere.
	SetOffline(ctx context.Context, userID, connID string) error
	// OnlineUserIDs returns the cross-process online set.
	OnlineUserIDs(ctx context.Context) ([]string, error)
}

// Nop is the single-process default.
type Nop struct{}

func (Nop) SetOnline(context.Context, string, string) error  { return nil }
func (Nop) SetOffline(context.Context, string, string) error { return nil }
func (Nop) OnlineUserIDs(context.Context) ([]string, error)  { return nil, nil }
