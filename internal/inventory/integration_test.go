//go:build integration

package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type LedgerIntegrationSuite struct {
	suite.Suite
	pg      *dbtest.Postgres
	service *inventory.Service
}

func (s *LedgerIntegrationSuite) SetupSuite() {
	pg, err := dbtest.Start(context.Background())
	s.Require().NoError(err)
	s.pg = pg
	s.service = inventory.NewService(
		inventory.NewRepository(pg.Pool),
		shared.NewAuditLogger(pg.Pool),
		shared.NewIdempotencyStore(pg.Pool),
		nil,
		slog.Default(),
	)
}

func (s *LedgerIntegrationSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background(), "inv_stock_balances", "inv_stock_movements", "idempotency_keys", "audit_logs"))
}

func (s *LedgerIntegrationSuite) TearDownSuite() {
	s.Require().NoError(s.pg.Stop(context.Background()))
}

func (s *LedgerIntegrationSuite) TestConcurrentReservationsNeverOversell() {
	ctx := context.Background()
	_, err := s.service.Post(ctx, inventory.MovementInput{ProductCode: "SKU-9", Type: inventory.MovementReceive, Qty: 10, ActorID: "admin-1"})
	s.Require().NoError(err)

	var (
		wg           sync.WaitGroup
		succeeded    atomic.Int32
		insufficient atomic.Int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.service.Post(ctx, inventory.MovementInput{
				ProductCode: "SKU-9",
				Type:        inventory.MovementReserve,
				Qty:         2,
				RefType:     "borrow",
				RefID:       fmt.Sprintf("BOR-%03d", i),
				ActorID:     "admin-1",
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				insufficient.Add(1)
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(5), succeeded.Load())
	s.Equal(int32(7), insufficient.Load())

	balance, err := s.service.Balance(ctx, "SKU-9")
	s.Require().NoError(err)
	s.InDelta(10.0, balance.OnHand, 1e-9)
	s.InDelta(10.0, balance.Reserved, 1e-9)
	s.InDelta(0.0, balance.Available(), 1e-9)

	movements, err := s.service.Movements(ctx, inventory.MovementFilter{ProductCode: "SKU-9"})
	s.Require().NoError(err)
	s.Len(movements, 6)
}

func (s *LedgerIntegrationSuite) TestIdempotentPost() {
	ctx := context.Background()
	in := inventory.MovementInput{ProductCode: "SKU-7", Type: inventory.MovementReceive, Qty: 3, ActorID: "admin-1", IdempotencyKey: "receive-7"}
	_, err := s.service.Post(ctx, in)
	s.Require().NoError(err)

	_, err = s.service.Post(ctx, in)
	s.Require().ErrorIs(err, shared.ErrIdempotencyConflict)

	balance, err := s.service.Balance(ctx, "SKU-7")
	s.Require().NoError(err)
	s.InDelta(3.0, balance.OnHand, 1e-9)
}

func TestLedgerIntegrationSuite(t *testing.T) {
	suite.Run(t, new(LedgerIntegrationSuite))
}
