package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BranchIntl/couponqueue/registry"
	"github.com/google/uuid"
)

const (
	couponClass       = "CouponGenerator"
	defaultCodeLength = 8
)

// newHandlers registers the coupon handler the CLI dispatches work items to
func newHandlers() (*registry.Registry, error) {
	r := registry.NewRegistry()
	if err := registerCoupons(r, couponClass); err != nil {
		return nil, fmt.Errorf("registering %s handler: %w", couponClass, err)
	}
	return r, nil
}

func registerCoupons(r *registry.Registry, class string) error {
	return r.Register(class, func() (registry.Handler, error) {
		return registry.Methods{
			"Generate": generateCoupon,
			"Import":   importCoupon,
		}, nil
	})
}

// generateCoupon returns a new random code: args are prefix and length
func generateCoupon(ctx context.Context, args ...any) (any, error) {
	prefix := ""
	length := defaultCodeLength
	if len(args) > 0 && args[0] != nil {
		prefix = fmt.Sprint(args[0])
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(fmt.Sprint(args[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid code length %v: %w", args[1], err)
		}
		length = n
	}
	if length <= 0 || length > 32 {
		return nil, fmt.Errorf("code length must be between 1 and 32, got %d", length)
	}

	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return strings.ToUpper(prefix) + random[:length], nil
}

// importCoupon normalizes an existing code
func importCoupon(ctx context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("import needs a coupon code")
	}
	code := strings.ToUpper(strings.TrimSpace(fmt.Sprint(args[0])))
	if code == "" {
		return nil, fmt.Errorf("empty coupon code")
	}
	return code, nil
}
