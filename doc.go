// Package couponqueue is a resumable background batch processor for bulk
// coupon runs. A run is a queue of work items persisted in a key-value
// store; each invocation drains as much of it as the time and memory
// budget allows, then yields and asks its scheduler to be invoked again.
//
// couponqueue supports multiple stores:
// - memory
// - Redis
// - SQLite
// - Pebble
//
// and multiple ways to re-arm a yielded run:
// - local timers
// - a cron healthcheck
// - RabbitMQ messages
//
// # Example
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/BranchIntl/couponqueue"
//		"github.com/BranchIntl/couponqueue/config"
//		"github.com/BranchIntl/couponqueue/item"
//		"github.com/BranchIntl/couponqueue/registry"
//	)
//
//	func main() {
//		ctx := context.Background()
//
//		handlers := registry.NewRegistry()
//		handlers.RegisterHandler("CouponGenerator", registry.Methods{
//			"Generate": generateCoupon,
//		})
//
//		svc, err := couponqueue.New(ctx, config.Default(), handlers)
//		if err != nil {
//			panic(err)
//		}
//		defer svc.Close()
//
//		svc.Processor().
//			Push(item.New("CouponGenerator", "Generate", "SAVE10")).
//			Push(item.New("CouponGenerator", "Generate", "SAVE20"))
//		if err := svc.Processor().Dispatch(ctx, item.ActionGenerate); err != nil {
//			panic(err)
//		}
//
//		// The local scheduler drains the run in the background
//		svc.Work(ctx)
//	}
//
// # Configuration
//
// config.Load reads a TOML file and applies COUPONQUEUE_* environment
// overrides. Durations use Go syntax ("20s") and memory sizes accept
// suffixes ("128M").
package couponqueue
