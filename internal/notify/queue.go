// Package notify delivers license emails off the payment path. Delivery is
// best effort: failures are retried a bounded number of times, then logged
// and dropped, and never touch order state.
package notify

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueFull is returned by Push when a bounded queue has no room.
	ErrQueueFull = errors.New("notification queue full")
	// ErrQueueClosed is returned once the queue has been closed.
	ErrQueueClosed = errors.New("notification queue closed")
)

// LicenseEmail is queued after an order's first transition to paid
type LicenseEmail struct {
	OrderNo     string    `json:"orderNo"`
	To          string    `json:"to"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	LicenseKey  string    `json:"licenseKey"`
	MaxDevices  int       `json:"maxDevices"`
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Queue is a FIFO of pending license emails
type Queue interface {
	Push(ctx context.Context, email LicenseEmail) error
	// Pop blocks until an email is available or ctx is done.
	Pop(ctx context.Context) (LicenseEmail, error)
	Close() error
}

// MemoryQueue is a bounded in-process queue. Pending emails are lost on exit.
type MemoryQueue struct {
	ch     chan LicenseEmail
	closed chan struct{}
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue holding at most size emails
func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{
		ch:     make(chan LicenseEmail, size),
		closed: make(chan struct{}),
	}
}

// Push enqueues without blocking
func (q *MemoryQueue) Push(ctx context.Context, email LicenseEmail) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- email:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Pop waits for the next email
func (q *MemoryQueue) Pop(ctx context.Context) (LicenseEmail, error) {
	select {
	case email := <-q.ch:
		return email, nil
	case <-q.closed:
		return LicenseEmail{}, ErrQueueClosed
	case <-ctx.Done():
		return LicenseEmail{}, ctx.Err()
	}
}

// Len reports the number of queued emails
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops the queue. It must be called once.
func (q *MemoryQueue) Close() error {
	close(q.closed)
	return nil
}
