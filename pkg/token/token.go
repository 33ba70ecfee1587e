// Package token implements the resource/token manager: per-resource
// mutex serialization, per-client token accounting bounded by
// SANLK_MAX_RESOURCES, and the add_resource/open_disks/acquire_token
// pipeline with reverse-order rollback on failure.
package token

import (
	"context"
	"fmt"

	"github.com/sanlockd/sanlockd/pkg/paxoslease"
	"github.com/sanlockd/sanlockd/pkg/wire"
)

// Token represents one client's hold on a resource, transferred into
// the client's slot after a successful acquire_token.
type Token struct {
	Lockspace string
	Resource  string
	Leader    *wire.LeaderRecord
	DBlock    *wire.DBlock
	Flags     paxoslease.TokenFlags

	engine *paxoslease.Engine
}

func resourceKey(lockspace, resource string) string {
	return fmt.Sprintf("%s/%s", lockspace, resource)
}

func (t *Token) key() string {
	return resourceKey(t.Lockspace, t.Resource)
}

// ReleaseEngine exposes the paxoslease.Engine this token was acquired
// through, for callers that need to re-read the leader directly.
func (t *Token) ReleaseEngine() *paxoslease.Engine {
	return t.engine
}

func (t *Token) release(ctx context.Context) error {
	_, err := t.engine.Release(ctx, t.Leader)
	return err
}
