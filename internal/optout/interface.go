package optout

import "context"

// Registry tracks users who disabled automated processing. Membership
// means every inbound audio event for that user is dropped before any
// external call happens.
type Registry interface {
	IsOptedOut(ctx context.Context, id string) bool
	OptOut(ctx context.Context, id string) error
	OptIn(ctx context.Context, id string) error
}
