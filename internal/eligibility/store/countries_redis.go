package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	"custody/internal/eligibility/models"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

const (
	countriesKey = "eligibility:countries"
	listModeKey  = "eligibility:list_mode"
)

// RedisCountryStore keeps the country list as a Redis set.
type RedisCountryStore struct {
	client *redis.Client
}

func NewRedisCountries(client *redis.Client) *RedisCountryStore {
	return &RedisCountryStore{client: client}
}

func (s *RedisCountryStore) Mode(ctx context.Context) (models.ListMode, error) {
	raw, err := s.client.Get(ctx, listModeKey).Result()
	if errors.Is(err, redis.Nil) {
		return models.DefaultListMode, nil
	}
	if err != nil {
		return "", err
	}
	mode := models.ListMode(raw)
	if !mode.IsValid() {
		return "", fmt.Errorf("stored list mode %q: %w", raw, sentinel.ErrInvalidState)
	}
	return mode, nil
}

func (s *RedisCountryStore) SetMode(ctx context.Context, mode models.ListMode) error {
	return s.client.Set(ctx, listModeKey, string(mode), 0).Err()
}

func (s *RedisCountryStore) Contains(ctx context.Context, country domain.Country) (bool, error) {
	return s.client.SIsMember(ctx, countriesKey, member(country)).Result()
}

func (s *RedisCountryStore) Add(ctx context.Context, countries ...domain.Country) error {
	return s.change(ctx, countries, true)
}

func (s *RedisCountryStore) Remove(ctx context.Context, countries ...domain.Country) error {
	return s.change(ctx, countries, false)
}

func (s *RedisCountryStore) List(ctx context.Context) ([]domain.Country, error) {
	raw, err := s.client.SMembers(ctx, countriesKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Country, 0, len(raw))
	for _, m := range raw {
		n, err := strconv.ParseUint(m, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("corrupt country member %q: %w", m, err)
		}
		out = append(out, domain.Country(n))
	}
	slices.Sort(out)
	return out, nil
}

// change adds or removes every country or none of them.
func (s *RedisCountryStore) change(ctx context.Context, countries []domain.Country, add bool) error {
	if len(countries) == 0 {
		return nil
	}
	members := make([]any, len(countries))
	for i, c := range countries {
		members[i] = member(c)
	}
	txf := func(tx *redis.Tx) error {
		present, err := tx.SMIsMember(ctx, countriesKey, members...).Result()
		if err != nil {
			return err
		}
		for _, p := range present {
			if add && p {
				return sentinel.ErrAlreadyExists
			}
			if !add && !p {
				return sentinel.ErrNotFound
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if add {
				pipe.SAdd(ctx, countriesKey, members...)
			} else {
				pipe.SRem(ctx, countriesKey, members...)
			}
			return nil
		})
		return err
	}
	for range maxWatchRetries {
		err := s.client.Watch(ctx, txf, countriesKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("country list write kept colliding: %w", sentinel.ErrContention)
}

func member(c domain.Country) string {
	return strconv.FormatUint(uint64(c), 10)
}
