// Package storetest holds the behavioural contract every orders.Store
// implementation must satisfy. Adapters run it from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/orders"
	"wzslicense/pkg/contracts/domain"
)

// Factory returns a fresh, empty store for one test
type Factory func(t *testing.T) orders.Store

// Run executes the store contract against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	suite.Run(t, &StoreSuite{newStore: newStore})
}

// StoreSuite is the contract test suite
type StoreSuite struct {
	suite.Suite
	newStore Factory
	store    orders.Store
	ctx      context.Context
	seq      int
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
}

// NewOrder returns a pending order with a unique order number
func NewOrder(orderNo string, maxDevices int) *domain.Order {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Order{
		OrderNo:    orderNo,
		Status:     domain.OrderStatusPending,
		Amount:     decimal.RequireFromString("19.90"),
		ProductID:  "pro",
		UserEmail:  "buyer@example.com",
		MaxDevices: maxDevices,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *StoreSuite) createOrder(maxDevices int) *domain.Order {
	s.seq++
	o := NewOrder(fmt.Sprintf("WZS-TEST-%03d", s.seq), maxDevices)
	s.Require().NoError(s.store.Create(s.ctx, o))
	return o
}

func (s *StoreSuite) payOrder(o *domain.Order) string {
	key := "WZS-PRO-KEY-" + o.OrderNo
	ok, err := s.store.MarkPaid(s.ctx, o.OrderNo, domain.PaymentUpdate{
		LicenseKey:      key,
		GatewayTradeRef: "T-" + o.OrderNo,
		PaymentMethod:   "alipay",
		PaidAt:          time.Now().UTC(),
	})
	s.Require().NoError(err)
	s.Require().True(ok)
	return key
}

func (s *StoreSuite) TestCreateAndGet() {
	o := s.createOrder(2)

	got, err := s.store.GetByOrderNo(s.ctx, o.OrderNo)
	s.Require().NoError(err)
	s.Equal(o.OrderNo, got.OrderNo)
	s.Equal(domain.OrderStatusPending, got.Status)
	s.True(o.Amount.Equal(got.Amount), "amount %s != %s", o.Amount, got.Amount)
	s.Equal("pro", got.ProductID)
	s.Equal("buyer@example.com", got.UserEmail)
	s.Equal(2, got.MaxDevices)
	s.Empty(got.ActivatedDevices)
	s.Empty(got.LicenseKey)
	s.Nil(got.PaidAt)
}

func (s *StoreSuite) TestCreateDuplicateFails() {
	o := s.createOrder(1)
	s.Error(s.store.Create(s.ctx, NewOrder(o.OrderNo, 1)))
}

func (s *StoreSuite) TestLookupsReturnNotFound() {
	_, err := s.store.GetByOrderNo(s.ctx, "missing")
	s.ErrorIs(err, apierrors.ErrNotFound)

	_, err = s.store.GetByLicenseKey(s.ctx, "WZS-NOPE")
	s.ErrorIs(err, apierrors.ErrNotFound)
}

func (s *StoreSuite) TestMarkPaidIsConditional() {
	o := s.createOrder(1)

	// Not reachable by license key before payment.
	_, err := s.store.GetByLicenseKey(s.ctx, "WZS-PRO-KEY-"+o.OrderNo)
	s.ErrorIs(err, apierrors.ErrNotFound)

	key := s.payOrder(o)

	ok, err := s.store.MarkPaid(s.ctx, o.OrderNo, domain.PaymentUpdate{
		LicenseKey: "WZS-OTHER",
		PaidAt:     time.Now().UTC(),
	})
	s.Require().NoError(err)
	s.False(ok, "second transition must not apply")

	got, err := s.store.GetByLicenseKey(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(o.OrderNo, got.OrderNo)
	s.Equal(domain.OrderStatusPaid, got.Status)
	s.Equal(key, got.LicenseKey, "license key is immutable once set")
	s.Equal("T-"+o.OrderNo, got.GatewayTradeRef)
	s.Equal("alipay", got.PaymentMethod)
	s.NotNil(got.PaidAt)
}

func (s *StoreSuite) TestMarkPaidUnknownOrder() {
	ok, err := s.store.MarkPaid(s.ctx, "missing", domain.PaymentUpdate{LicenseKey: "K", PaidAt: time.Now()})
	s.NoError(err)
	s.False(ok)
}

func (s *StoreSuite) TestConcurrentMarkPaidSingleWinner() {
	o := s.createOrder(1)

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.store.MarkPaid(s.ctx, o.OrderNo, domain.PaymentUpdate{
				LicenseKey: "WZS-PRO-RACE",
				PaidAt:     time.Now().UTC(),
			})
			if err != nil {
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, wins)
}

func (s *StoreSuite) TestAddDeviceSetSemantics() {
	o := s.createOrder(2)
	s.payOrder(o)

	res, err := s.store.AddDevice(s.ctx, o.OrderNo, "dev-a")
	s.Require().NoError(err)
	s.Equal(orders.DeviceSetResult{Changed: true, Member: true, Count: 1, Limit: 2}, res)

	res, err = s.store.AddDevice(s.ctx, o.OrderNo, "dev-a")
	s.Require().NoError(err)
	s.Equal(orders.DeviceSetResult{Changed: false, Member: true, Count: 1, Limit: 2}, res, "re-adding is a no-op")

	res, err = s.store.AddDevice(s.ctx, o.OrderNo, "dev-b")
	s.Require().NoError(err)
	s.True(res.Changed)
	s.Equal(2, res.Count)

	res, err = s.store.AddDevice(s.ctx, o.OrderNo, "dev-c")
	s.Require().NoError(err)
	s.Equal(orders.DeviceSetResult{Changed: false, Member: false, Count: 2, Limit: 2}, res, "full set rejects")

	got, err := s.store.GetByOrderNo(s.ctx, o.OrderNo)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"dev-a", "dev-b"}, got.ActivatedDevices)
}

func (s *StoreSuite) TestRemoveDeviceFreesSlot() {
	o := s.createOrder(1)
	s.payOrder(o)

	_, err := s.store.AddDevice(s.ctx, o.OrderNo, "dev-a")
	s.Require().NoError(err)

	res, err := s.store.RemoveDevice(s.ctx, o.OrderNo, "dev-x", "")
	s.Require().NoError(err)
	s.Equal(orders.DeviceSetResult{Changed: false, Member: false, Count: 1, Limit: 1}, res)

	res, err = s.store.RemoveDevice(s.ctx, o.OrderNo, "dev-a", "")
	s.Require().NoError(err)
	s.Equal(orders.DeviceSetResult{Changed: true, Member: false, Count: 0, Limit: 1}, res)

	res, err = s.store.AddDevice(s.ctx, o.OrderNo, "dev-b")
	s.Require().NoError(err)
	s.True(res.Changed)

	res, err = s.store.AddDevice(s.ctx, o.OrderNo, "dev-a")
	s.Require().NoError(err)
	s.False(res.Member, "slot is taken by dev-b")
}

func (s *StoreSuite) TestRemoveDeviceRequiresMember() {
	o := s.createOrder(3)
	s.payOrder(o)
	for _, d := range []string{"dev-a", "dev-b"} {
		_, err := s.store.AddDevice(s.ctx, o.OrderNo, d)
		s.Require().NoError(err)
	}

	res, err := s.store.RemoveDevice(s.ctx, o.OrderNo, "dev-b", "dev-x")
	s.Require().NoError(err)
	s.Equal(orders.DeviceSetResult{Denied: true, Member: true, Count: 2, Limit: 3}, res)

	res, err = s.store.RemoveDevice(s.ctx, o.OrderNo, "dev-b", "dev-a")
	s.Require().NoError(err)
	s.Equal(orders.DeviceSetResult{Changed: true, Member: false, Count: 1, Limit: 3}, res)

	got, err := s.store.GetByOrderNo(s.ctx, o.OrderNo)
	s.Require().NoError(err)
	s.Equal([]string{"dev-a"}, got.ActivatedDevices)
}

func (s *StoreSuite) TestConcurrentMutualRemovalKeepsOneDevice() {
	for round := 0; round < 20; round++ {
		o := s.createOrder(2)
		s.payOrder(o)
		for _, d := range []string{"dev-a", "dev-b"} {
			_, err := s.store.AddDevice(s.ctx, o.OrderNo, d)
			s.Require().NoError(err)
		}

		var (
			wg      sync.WaitGroup
			results [2]orders.DeviceSetResult
			errs    [2]error
		)
		start := make(chan struct{})
		pairs := [2][2]string{{"dev-b", "dev-a"}, {"dev-a", "dev-b"}}
		for i, p := range pairs {
			wg.Add(1)
			go func(i int, target, requester string) {
				defer wg.Done()
				<-start
				results[i], errs[i] = s.store.RemoveDevice(s.ctx, o.OrderNo, target, requester)
			}(i, p[0], p[1])
		}
		close(start)
		wg.Wait()

		s.Require().NoError(errs[0])
		s.Require().NoError(errs[1])
		s.NotEqual(results[0].Changed, results[1].Changed, "exactly one removal applies")
		s.True(results[0].Denied || results[1].Denied)

		got, err := s.store.GetByOrderNo(s.ctx, o.OrderNo)
		s.Require().NoError(err)
		s.Len(got.ActivatedDevices, 1)
	}
}

func (s *StoreSuite) TestDeviceOpsUnknownOrder() {
	_, err := s.store.AddDevice(s.ctx, "missing", "dev")
	s.ErrorIs(err, apierrors.ErrNotFound)

	_, err = s.store.RemoveDevice(s.ctx, "missing", "dev", "")
	s.ErrorIs(err, apierrors.ErrNotFound)
}

func (s *StoreSuite) TestConcurrentAddDeviceNeverExceedsLimit() {
	const maxDevices = 3
	const devices = 20

	o := s.createOrder(maxDevices)
	s.payOrder(o)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added   int
		maxSeen int
		errs    []error
	)
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.store.AddDevice(s.ctx, o.OrderNo, fmt.Sprintf("dev-%02d", i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Changed {
				added++
			}
			maxSeen = max(maxSeen, res.Count)
		}(i)
	}
	wg.Wait()

	s.Empty(errs)
	s.Equal(maxDevices, added)
	s.LessOrEqual(maxSeen, maxDevices)

	got, err := s.store.GetByOrderNo(s.ctx, o.OrderNo)
	s.Require().NoError(err)
	s.Len(got.ActivatedDevices, maxDevices)
}

func (s *StoreSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}
