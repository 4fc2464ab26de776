package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMembershipIndex keeps active role membership in Redis sets, keyed
// per (org, user), so multiple engine processes share one membership view.
// It is an advisory accelerator: the engine treats positive hits as proof of
// membership and falls back to the authoritative store on misses or errors.
type RedisMembershipIndex struct {
	client *redis.Client
	keyFmt string
}

func NewRedisMembershipIndex(client *redis.Client) *RedisMembershipIndex {
	return &RedisMembershipIndex{client: client, keyFmt: "rbac:member:%s:%s"}
}

func (r *RedisMembershipIndex) key(orgID, userID string) string {
	return fmt.Sprintf(r.keyFmt, orgID, userID)
}

func (r *RedisMembershipIndex) AddRole(ctx context.Context, orgID, userID, roleID string) error {
	return r.client.SAdd(ctx, r.key(orgID, userID), roleID).Err()
}

func (r *RedisMembershipIndex) RemoveRole(ctx context.Context, orgID, userID, roleID string) error {
	return r.client.SRem(ctx, r.key(orgID, userID), roleID).Err()
}

func (r *RedisMembershipIndex) ListRoleIDs(ctx context.Context, orgID, userID string) ([]string, error) {
	return r.client.SMembers(ctx, r.key(orgID, userID)).Result()
}
