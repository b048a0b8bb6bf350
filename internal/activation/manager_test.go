package activation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/license"
	"wzslicense/internal/orders"
	"wzslicense/internal/shared/testutil"
	"wzslicense/internal/storage/memory"
	"wzslicense/internal/storage/storetest"
	"wzslicense/pkg/contracts/domain"
)

type ManagerSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	issuer  *license.Issuer
	manager *Manager
	key     string
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()

	issuer, err := license.NewIssuer(license.IssuerConfig{Secret: "activation-secret"})
	s.Require().NoError(err)
	s.issuer = issuer

	logger, _ := testutil.NewTestLogger(s.T())
	s.manager = NewManager(s.store, issuer, nil, logger)
	s.key = s.paidOrder("WZS-ORDER-1", 2)
}

// paidOrder seeds a paid order and returns its license key
func (s *ManagerSuite) paidOrder(orderNo string, maxDevices int, devices ...string) string {
	o := storetest.NewOrder(orderNo, maxDevices)
	o.Status = domain.OrderStatusPaid
	o.LicenseKey = s.issuer.Issue(o.UserEmail, o.ProductID, orderNo)
	paidAt := o.CreatedAt.Add(time.Minute)
	o.PaidAt = &paidAt
	o.ActivatedDevices = devices
	s.Require().NoError(s.store.Create(s.ctx, o))
	return o.LicenseKey
}

func (s *ManagerSuite) devices(key string) []string {
	o, err := s.store.GetByLicenseKey(s.ctx, key)
	s.Require().NoError(err)
	return o.ActivatedDevices
}

func (s *ManagerSuite) TestActivateBindsDevice() {
	res, err := s.manager.Activate(s.ctx, s.key, "device-a")
	s.Require().NoError(err)

	s.True(res.Activated)
	s.False(res.AlreadyActivated)
	s.Empty(res.Reason)
	s.Equal(1, res.CurrentDevices)
	s.Equal(2, res.MaxDevices)
	s.Equal("buyer@example.com", res.Order.UserEmail)
	s.NotNil(res.Order.PaidAt)
	s.False(res.ActivatedAt.IsZero())
	s.Equal([]string{"device-a"}, s.devices(s.key))
}

func (s *ManagerSuite) TestActivateNormalizesKey() {
	res, err := s.manager.Activate(s.ctx, "  "+strings.ToLower(s.key)+" ", "device-a")
	s.Require().NoError(err)
	s.True(res.Activated)
}

func (s *ManagerSuite) TestActivateIsIdempotent() {
	_, err := s.manager.Activate(s.ctx, s.key, "device-a")
	s.Require().NoError(err)

	res, err := s.manager.Activate(s.ctx, s.key, "device-a")
	s.Require().NoError(err)
	s.True(res.Activated)
	s.True(res.AlreadyActivated)
	s.Equal(1, res.CurrentDevices)
	s.Len(s.devices(s.key), 1)
}

func (s *ManagerSuite) TestActivateRejections() {
	pending := storetest.NewOrder("WZS-PENDING", 1)
	pending.LicenseKey = s.issuer.Issue(pending.UserEmail, pending.ProductID, pending.OrderNo)
	s.Require().NoError(s.store.Create(s.ctx, pending))

	full := s.paidOrder("WZS-FULL", 1, "device-x")

	tests := []struct {
		name   string
		key    string
		reason string
	}{
		{"malformed key", "not-a-license", domain.ReasonLicenseNotFound},
		{"unknown key", s.issuer.Issue("nobody@example.com", "pro", "WZS-NONE"), domain.ReasonLicenseNotFound},
		{"unpaid order", pending.LicenseKey, domain.ReasonLicenseNotActive},
		{"device limit", full, domain.ReasonDeviceLimitReached},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			res, err := s.manager.Activate(s.ctx, tt.key, "device-new")
			s.Require().NoError(err)
			s.False(res.Activated)
			s.Equal(tt.reason, res.Reason)
		})
	}

	res, _ := s.manager.Activate(s.ctx, full, "device-new")
	s.Equal(1, res.CurrentDevices)
	s.Equal(1, res.MaxDevices)
	s.Equal([]string{"device-x"}, s.devices(full))
}

func (s *ManagerSuite) TestActivateRequiresIdentifiers() {
	_, err := s.manager.Activate(s.ctx, s.key, "   ")
	s.Equal(apierrors.ErrTypeValidation, apierrors.TypeOf(err))

	_, err = s.manager.Activate(s.ctx, "", "device-a")
	s.Equal(apierrors.ErrTypeValidation, apierrors.TypeOf(err))
}

func (s *ManagerSuite) TestSingleSeatReleaseAndRebind() {
	key := s.paidOrder("WZS-SOLO", 1)

	res, err := s.manager.Activate(s.ctx, key, "laptop")
	s.Require().NoError(err)
	s.True(res.Activated)

	res, err = s.manager.Activate(s.ctx, key, "desktop")
	s.Require().NoError(err)
	s.Equal(domain.ReasonDeviceLimitReached, res.Reason)

	// a device cannot deactivate itself; release is the way out
	deact, err := s.manager.Deactivate(s.ctx, key, "laptop", "laptop")
	s.Require().NoError(err)
	s.Equal(domain.ReasonCannotTargetSelf, deact.Reason)

	rel, err := s.manager.Release(s.ctx, key, "laptop")
	s.Require().NoError(err)
	s.True(rel.Removed)
	s.Equal(0, rel.CurrentDevices)

	res, err = s.manager.Activate(s.ctx, key, "desktop")
	s.Require().NoError(err)
	s.True(res.Activated)
	s.Equal([]string{"desktop"}, s.devices(key))
}

func (s *ManagerSuite) TestDeactivate() {
	key := s.paidOrder("WZS-DEACT", 3, "a", "b")

	s.Run("self target is checked before anything else", func() {
		res, err := s.manager.Deactivate(s.ctx, "WZS-UNKNOWN-0000", "ghost", "ghost")
		s.Require().NoError(err)
		s.Equal(domain.ReasonCannotTargetSelf, res.Reason)
	})

	s.Run("unbound requester is unauthorized", func() {
		res, err := s.manager.Deactivate(s.ctx, key, "intruder", "a")
		s.Require().NoError(err)
		s.Equal(domain.ReasonUnauthorizedDevice, res.Reason)
		s.Len(s.devices(key), 2)
	})

	s.Run("unbound target", func() {
		res, err := s.manager.Deactivate(s.ctx, key, "a", "c")
		s.Require().NoError(err)
		s.Equal(domain.ReasonDeviceNotBound, res.Reason)
	})

	s.Run("bound device removes another", func() {
		res, err := s.manager.Deactivate(s.ctx, key, "a", "b")
		s.Require().NoError(err)
		s.True(res.Removed)
		s.Empty(res.Reason)
		s.Equal(1, res.CurrentDevices)
		s.Equal(3, res.MaxDevices)
		s.Equal([]string{"a"}, s.devices(key))
	})

	s.Run("removed device lost its authority", func() {
		res, err := s.manager.Deactivate(s.ctx, key, "b", "a")
		s.Require().NoError(err)
		s.Equal(domain.ReasonUnauthorizedDevice, res.Reason)
	})
}

// lockstepStore holds every RemoveDevice until n calls have arrived, so the
// callers all read the order before any removal is applied.
type lockstepStore struct {
	orders.Store
	arrived sync.WaitGroup
}

func (l *lockstepStore) RemoveDevice(ctx context.Context, orderNo, deviceID, requiredMember string) (orders.DeviceSetResult, error) {
	l.arrived.Done()
	l.arrived.Wait()
	return l.Store.RemoveDevice(ctx, orderNo, deviceID, requiredMember)
}

func (s *ManagerSuite) TestMutualDeactivationLeavesOneDevice() {
	key := s.paidOrder("WZS-MUTUAL", 2, "a", "b")

	store := &lockstepStore{Store: s.store}
	store.arrived.Add(2)
	logger, _ := testutil.NewTestLogger(s.T())
	manager := NewManager(store, s.issuer, nil, logger)

	var (
		wg      sync.WaitGroup
		results [2]DeactivationResult
		errs    [2]error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = manager.Deactivate(s.ctx, key, "a", "b")
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = manager.Deactivate(s.ctx, key, "b", "a")
	}()
	wg.Wait()

	s.Require().NoError(errs[0])
	s.Require().NoError(errs[1])
	s.NotEqual(results[0].Removed, results[1].Removed, "exactly one deactivation applies")

	loser := results[0]
	if loser.Removed {
		loser = results[1]
	}
	s.Equal(domain.ReasonUnauthorizedDevice, loser.Reason)
	s.Len(s.devices(key), 1)
}

func (s *ManagerSuite) TestReleaseUnboundDevice() {
	res, err := s.manager.Release(s.ctx, s.key, "never-bound")
	s.Require().NoError(err)
	s.False(res.Removed)
	s.Equal(domain.ReasonDeviceNotBound, res.Reason)
}

func (s *ManagerSuite) TestListDevices() {
	key := s.paidOrder("WZS-LIST", 3, "alpha", "beta")

	res, err := s.manager.ListDevices(s.ctx, key, "stranger")
	s.Require().NoError(err)
	s.Equal(domain.ReasonUnauthorizedDevice, res.Reason)
	s.Nil(res.List)

	res, err = s.manager.ListDevices(s.ctx, key, "beta")
	s.Require().NoError(err)
	s.Require().NotNil(res.List)

	list := res.List
	s.Equal("WZS-PRO-****-****-****-****", list.MaskedLicenseKey)
	s.Equal("pro", list.ProductID)
	s.Equal(2, list.CurrentDevices)
	s.Equal(3, list.MaxDevices)
	s.Equal("beta", list.CurrentDeviceID)
	s.Equal([]domain.DeviceInfo{
		{DeviceID: "alpha", DeviceName: "device 1"},
		{DeviceID: "beta", DeviceName: "device 2", IsCurrentDevice: true},
	}, list.Devices)

	res, err = s.manager.ListDevices(s.ctx, s.issuer.Issue("x@example.com", "pro", "nope"), "beta")
	s.Require().NoError(err)
	s.Equal(domain.ReasonLicenseNotFound, res.Reason)
}

func (s *ManagerSuite) TestConcurrentActivationsRespectLimit() {
	key := s.paidOrder("WZS-CONC", 3)

	const devices = 24
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		activated []string
		limited   int
	)
	start := make(chan struct{})
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			res, err := s.manager.Activate(s.ctx, key, id)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Activated {
				activated = append(activated, id)
			} else if res.Reason == domain.ReasonDeviceLimitReached {
				limited++
			}
		}(fmt.Sprintf("device-%02d", i))
	}
	close(start)
	wg.Wait()

	s.Len(activated, 3)
	s.Equal(devices-3, limited)
	s.ElementsMatch(activated, s.devices(key))
}

func (s *ManagerSuite) TestConcurrentSameDeviceBindsOnce() {
	var wg sync.WaitGroup
	results := make([]ActivationResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.manager.Activate(s.ctx, s.key, "device-same")
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		s.True(r.Activated)
		if !r.AlreadyActivated {
			fresh++
		}
	}
	s.Equal(1, fresh)
	s.Equal([]string{"device-same"}, s.devices(s.key))
}

// faultyStore fails every lookup with a transient error
type faultyStore struct {
	orders.Store
}

func (faultyStore) GetByLicenseKey(context.Context, string) (*domain.Order, error) {
	return nil, apierrors.NewTransientError("store get_by_license_key timed out", context.DeadlineExceeded)
}

func TestManagerPropagatesStoreFaults(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	m := NewManager(faultyStore{}, nil, nil, logger)
	ctx := context.Background()

	_, err := m.Activate(ctx, "WZS-PRO-AAAA-BBBB-CCCC-DDDD", "d")
	assert.True(t, apierrors.IsTransient(err))

	_, err = m.Deactivate(ctx, "WZS-PRO-AAAA-BBBB-CCCC-DDDD", "d", "e")
	assert.True(t, apierrors.IsTransient(err))

	_, err = m.Release(ctx, "WZS-PRO-AAAA-BBBB-CCCC-DDDD", "d")
	assert.True(t, apierrors.IsTransient(err))

	_, err = m.ListDevices(ctx, "WZS-PRO-AAAA-BBBB-CCCC-DDDD", "d")
	require.Error(t, err)
	assert.True(t, apierrors.IsTransient(err))
}
