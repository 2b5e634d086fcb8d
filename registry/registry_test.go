package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() Handler {
	return Methods{
		"Echo": func(ctx context.Context, args ...any) (any, error) {
			return args, nil
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name      string
		class     string
		factory   Factory
		expectErr error
	}{
		{
			name:    "valid registration",
			class:   "CouponGenerator",
			factory: func() (Handler, error) { return echoHandler(), nil },
		},
		{
			name:      "empty class name",
			class:     "",
			factory:   func() (Handler, error) { return echoHandler(), nil },
			expectErr: errors.ErrEmptyClassName,
		},
		{
			name:      "nil factory",
			class:     "CouponGenerator",
			factory:   nil,
			expectErr: errors.ErrNilFactory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.class, tt.factory)

			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				assert.Empty(t, r.List())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.class}, r.List())
		})
	}
}

func TestRegistry_LazyBuildOnce(t *testing.T) {
	r := NewRegistry()
	var builds int32
	require.NoError(t, r.Register("CouponGenerator", func() (Handler, error) {
		atomic.AddInt32(&builds, 1)
		return echoHandler(), nil
	}))
	assert.Equal(t, int32(0), builds, "factory runs on first Get only")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Get("CouponGenerator")
			assert.NoError(t, err)
			assert.NotNil(t, h)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds)
}

func TestRegistry_FailedBuildIsRetried(t *testing.T) {
	r := NewRegistry()
	attempts := 0
	require.NoError(t, r.Register("Flaky", func() (Handler, error) {
		attempts++
		if attempts == 1 {
			return nil, fmt.Errorf("not ready")
		}
		return echoHandler(), nil
	}))

	_, err := r.Get("Flaky")
	assert.EqualError(t, err, "not ready")

	h, err := r.Get("Flaky")
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("Missing")
	assert.ErrorIs(t, err, errors.ErrHandlerNotFound)
}

func TestRegistry_RemoveAndClear(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterHandler("A", echoHandler()))
	require.NoError(t, r.RegisterHandler("B", echoHandler()))

	require.NoError(t, r.Remove("A"))
	_, err := r.Get("A")
	assert.ErrorIs(t, err, errors.ErrHandlerNotFound)
	assert.ElementsMatch(t, []string{"B"}, r.List())

	r.Clear()
	assert.Empty(t, r.List())
}

func TestMethods(t *testing.T) {
	h := echoHandler()

	fn, ok := h.Method("Echo")
	require.True(t, ok)
	out, err := fn(context.Background(), 1, "two")
	require.NoError(t, err)
	assert.Equal(t, []any{1, "two"}, out)

	_, ok = h.Method("Missing")
	assert.False(t, ok)
}
