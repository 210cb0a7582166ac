package store

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"custody/pkg/platform/sentinel"
)

const frozenKey = "issuance:frozen"

// RedisFrozenSet keeps frozen accounts as a Redis set of lowercase hex
// addresses.
type RedisFrozenSet struct {
	client *redis.Client
}

func NewRedisFrozen(client *redis.Client) *RedisFrozenSet {
	return &RedisFrozenSet{client: client}
}

func (s *RedisFrozenSet) IsFrozen(ctx context.Context, account common.Address) (bool, error) {
	return s.client.SIsMember(ctx, frozenKey, frozenMember(account)).Result()
}

func (s *RedisFrozenSet) Freeze(ctx context.Context, account common.Address) error {
	added, err := s.client.SAdd(ctx, frozenKey, frozenMember(account)).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return sentinel.ErrAlreadyExists
	}
	return nil
}

func (s *RedisFrozenSet) Unfreeze(ctx context.Context, account common.Address) error {
	removed, err := s.client.SRem(ctx, frozenKey, frozenMember(account)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *RedisFrozenSet) List(ctx context.Context) ([]common.Address, error) {
	members, err := s.client.SMembers(ctx, frozenKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(members))
	for _, m := range members {
		out = append(out, common.HexToAddress(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out, nil
}

func frozenMember(account common.Address) string {
	return "0x" + common.Bytes2Hex(account.Bytes())
}
