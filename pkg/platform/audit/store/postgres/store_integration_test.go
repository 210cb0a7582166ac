//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "custody/pkg/platform/audit"
	auditpostgres "custody/pkg/platform/audit/store/postgres"
	txcontext "custody/pkg/platform/tx"
	"custody/pkg/testutil/containers"
)

const subject = "0x0000000000000000000000000000000000001001"

type OutboxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *auditpostgres.Store
}

func TestOutboxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxSuite))
}

func (s *OutboxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(auditpostgres.Migrate(context.Background(), s.postgres.DB))
	s.store = auditpostgres.New(s.postgres.DB)
}

func (s *OutboxSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_outbox"))
}

func (s *OutboxSuite) append(action audit.AuditEvent, at time.Time) {
	s.Require().NoError(s.store.Append(context.Background(), audit.Event{
		Action:    string(action),
		Subject:   subject,
		ActorID:   "0x00000000000000000000000000000000000000f1",
		Amount:    "200",
		Timestamp: at,
	}))
}

func (s *OutboxSuite) TestAppendAndList() {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.append(audit.EventBurnRequested, t0)
	s.append(audit.EventRequestApproved, t0.Add(time.Minute))

	events, err := s.store.ListBySubject(ctx, subject)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventBurnRequested), events[0].Action)
	s.Equal(audit.CategoryCompliance, events[0].Category, "category derived from action")
	s.Equal("200", events[1].Amount)

	recent, err := s.store.ListRecent(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal(string(audit.EventRequestApproved), recent[0].Action)
}

func (s *OutboxSuite) TestAppendJoinsTransaction() {
	ctx := context.Background()
	boom := errors.New("boom")
	err := txcontext.RunInTx(ctx, s.postgres.DB, nil, func(ctx context.Context) error {
		if err := s.store.Append(ctx, audit.Event{Action: string(audit.EventStaked), Subject: subject}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	events, err := s.store.ListBySubject(ctx, subject)
	s.Require().NoError(err)
	s.Empty(events, "audit row rolls back with the state change")
}

func (s *OutboxSuite) TestDrain() {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := range 3 {
		s.append(audit.EventStaked, t0.Add(time.Duration(i)*time.Second))
	}

	n, err := s.store.Drain(ctx, 10, func(context.Context, []audit.Event) error {
		return errors.New("broker down")
	})
	s.Error(err)
	s.Zero(n)

	var seen []audit.Event
	n, err = s.store.Drain(ctx, 2, func(_ context.Context, events []audit.Event) error {
		seen = append(seen, events...)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Len(seen, 2, "failed batch stayed pending")

	n, err = s.store.Drain(ctx, 10, func(_ context.Context, events []audit.Event) error {
		seen = append(seen, events...)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.store.Drain(ctx, 10, func(context.Context, []audit.Event) error { return nil })
	s.Require().NoError(err)
	s.Zero(n, "published rows are not drained again")
	s.Len(seen, 3)
}
