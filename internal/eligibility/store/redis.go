package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"custody/internal/eligibility/models"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

const (
	identityKeyPrefix = "eligibility:identity:"
	walletKeyPrefix   = "eligibility:wallet:"

	// maxWatchRetries bounds optimistic retries when a watched key changes
	// between read and commit.
	maxWatchRetries = 5
)

// RedisStore keeps each identity as a JSON document plus one key per bound
// wallet pointing at the identity hash. Writes use WATCH/MULTI so the wallet
// index and the documents change together.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func identityKey(hash domain.IdentityHash) string {
	return identityKeyPrefix + hash.Hex()
}

func walletKey(wallet common.Address) string {
	return walletKeyPrefix + strings.ToLower(wallet.Hex())
}

func (s *RedisStore) Create(ctx context.Context, identity *models.Identity) error {
	return s.CreateBatch(ctx, []*models.Identity{identity})
}

func (s *RedisStore) CreateBatch(ctx context.Context, identities []*models.Identity) error {
	if err := checkBatch(identities); err != nil {
		return err
	}
	keys := make([]string, 0, len(identities))
	payloads := make([][]byte, len(identities))
	for i, identity := range identities {
		payload, err := json.Marshal(identity)
		if err != nil {
			return fmt.Errorf("encoding identity: %w", err)
		}
		payloads[i] = payload
		keys = append(keys, identityKey(identity.Hash))
		for _, w := range identity.Wallets {
			keys = append(keys, walletKey(w))
		}
	}

	return s.watch(ctx, func(tx *redis.Tx) error {
		for _, identity := range identities {
			n, err := tx.Exists(ctx, identityKey(identity.Hash)).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return sentinel.ErrAlreadyExists
			}
			if err := ensureUnbound(ctx, tx, identity.Hash, identity.Wallets); err != nil {
				return err
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, identity := range identities {
				pipe.Set(ctx, identityKey(identity.Hash), payloads[i], 0)
				for _, w := range identity.Wallets {
					pipe.Set(ctx, walletKey(w), identity.Hash.Hex(), 0)
				}
			}
			return nil
		})
		return err
	}, keys...)
}

func (s *RedisStore) FindByHash(ctx context.Context, hash domain.IdentityHash) (*models.Identity, error) {
	return load(ctx, s.client, hash)
}

func (s *RedisStore) FindByWallet(ctx context.Context, wallet common.Address) (*models.Identity, error) {
	raw, err := s.client.Get(ctx, walletKey(wallet)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	hash, err := domain.ParseIdentityHash(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt wallet index for %s: %w", wallet.Hex(), err)
	}
	return load(ctx, s.client, hash)
}

func (s *RedisStore) Delete(ctx context.Context, hash domain.IdentityHash) error {
	key := identityKey(hash)
	return s.watch(ctx, func(tx *redis.Tx) error {
		identity, err := load(ctx, tx, hash)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			for _, w := range identity.Wallets {
				pipe.Del(ctx, walletKey(w))
			}
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) Update(ctx context.Context, hash domain.IdentityHash, fn func(*models.Identity) error) error {
	key := identityKey(hash)
	return s.watch(ctx, func(tx *redis.Tx) error {
		current, err := load(ctx, tx, hash)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.Hash = hash

		added, removed := diffWallets(current.Wallets, next.Wallets)
		if len(added) > 0 {
			addedKeys := make([]string, len(added))
			for i, w := range added {
				addedKeys[i] = walletKey(w)
			}
			if err := tx.Watch(ctx, addedKeys...).Err(); err != nil {
				return err
			}
			if err := ensureUnbound(ctx, tx, hash, added); err != nil {
				return err
			}
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding identity: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			for _, w := range removed {
				pipe.Del(ctx, walletKey(w))
			}
			for _, w := range added {
				pipe.Set(ctx, walletKey(w), hash.Hex(), 0)
			}
			return nil
		})
		return err
	}, key)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxWatchRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("identity write kept colliding: %w", sentinel.ErrContention)
}

func ensureUnbound(ctx context.Context, c getter, owner domain.IdentityHash, wallets []common.Address) error {
	for _, w := range wallets {
		raw, err := c.Get(ctx, walletKey(w)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if raw != owner.Hex() {
			return sentinel.ErrConflict
		}
	}
	return nil
}

func load(ctx context.Context, c getter, hash domain.IdentityHash) (*models.Identity, error) {
	raw, err := c.Get(ctx, identityKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var identity models.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	return &identity, nil
}
