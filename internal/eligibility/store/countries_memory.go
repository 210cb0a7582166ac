package store

import (
	"context"
	"slices"
	"sync"

	"custody/internal/eligibility/models"
	"custody/pkg/domain"
	"custody/pkg/platform/sentinel"
)

type InMemoryCountryStore struct {
	mu        sync.RWMutex
	mode      models.ListMode
	countries map[domain.Country]struct{}
}

func NewInMemoryCountries() *InMemoryCountryStore {
	return &InMemoryCountryStore{
		mode:      models.DefaultListMode,
		countries: make(map[domain.Country]struct{}),
	}
}

func (s *InMemoryCountryStore) Mode(context.Context) (models.ListMode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode, nil
}

func (s *InMemoryCountryStore) SetMode(_ context.Context, mode models.ListMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

func (s *InMemoryCountryStore) Contains(_ context.Context, country domain.Country) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.countries[country]
	return ok, nil
}

func (s *InMemoryCountryStore) Add(_ context.Context, countries ...domain.Country) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range countries {
		if _, ok := s.countries[c]; ok {
			return sentinel.ErrAlreadyExists
		}
	}
	for _, c := range countries {
		s.countries[c] = struct{}{}
	}
	return nil
}

func (s *InMemoryCountryStore) Remove(_ context.Context, countries ...domain.Country) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range countries {
		if _, ok := s.countries[c]; !ok {
			return sentinel.ErrNotFound
		}
	}
	for _, c := range countries {
		delete(s.countries, c)
	}
	return nil
}

func (s *InMemoryCountryStore) List(context.Context) ([]domain.Country, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Country, 0, len(s.countries))
	for c := range s.countries {
		out = append(out, c)
	}
	slices.Sort(out)
	return out, nil
}
