package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"wzslicense/internal/orders"
	"wzslicense/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) orders.Store {
		return New()
	})
}

func TestReturnedOrdersAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := storetest.NewOrder("WZS-COPY", 2)
	assert.NoError(t, s.Create(ctx, o))

	got, err := s.GetByOrderNo(ctx, o.OrderNo)
	assert.NoError(t, err)
	got.ActivatedDevices = append(got.ActivatedDevices, "injected")
	got.Status = "paid"

	again, err := s.GetByOrderNo(ctx, o.OrderNo)
	assert.NoError(t, err)
	assert.Empty(t, again.ActivatedDevices)
	assert.Equal(t, "pending", string(again.Status))
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetByOrderNo(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
