package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/BranchIntl/couponqueue"
	"github.com/BranchIntl/couponqueue/core"
	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/spf13/cobra"
)

var (
	dispatchAction string
	dispatchCount  int
	dispatchPrefix string
	dispatchLength int
	dispatchCodes  []string
	dispatchWait   bool
	workHTTP       bool
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one budget-bounded invocation",
		RunE:  runRun,
	})

	// work command
	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Serve the trigger sources and the HTTP API until interrupted",
		RunE:  runWork,
	}
	workCmd.Flags().BoolVar(&workHTTP, "http", true, "serve the status API")
	rootCmd.AddCommand(workCmd)

	// dispatch command
	dispatchCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Start a bulk coupon run",
		RunE:  runDispatch,
	}
	dispatchCmd.Flags().StringVar(&dispatchAction, "action", string(item.ActionGenerate), "generate, import, generate_email or import_email")
	dispatchCmd.Flags().IntVar(&dispatchCount, "count", 10, "number of coupons to generate")
	dispatchCmd.Flags().StringVar(&dispatchPrefix, "prefix", "", "generated code prefix")
	dispatchCmd.Flags().IntVar(&dispatchLength, "length", defaultCodeLength, "generated code length, prefix excluded")
	dispatchCmd.Flags().StringSliceVar(&dispatchCodes, "codes", nil, "codes to import")
	dispatchCmd.Flags().BoolVar(&dispatchWait, "wait", false, "drain the run in the foreground")
	rootCmd.AddCommand(dispatchCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current run",
		RunE:  runStatus,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "result",
		Short: "Show and clear the result of the last completed run",
		RunE:  runResult,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "cancel",
		Short: "Abandon the current run",
		RunE:  runCancel,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "unlock",
		Short: "Force release the process lock",
		RunE:  runUnlock,
	})
}

func newService(ctx context.Context) (*couponqueue.Service, error) {
	handlers, err := newHandlers()
	if err != nil {
		return nil, err
	}
	return couponqueue.New(ctx, cfg, handlers)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := couponqueue.SignalContext(cmd.Context())
	defer cancel()

	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	outcome, err := svc.Processor().Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(outcome)
	return nil
}

func runWork(cmd *cobra.Command, args []string) error {
	ctx, cancel := couponqueue.SignalContext(cmd.Context())
	defer cancel()

	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	var server *http.Server
	if workHTTP {
		server = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           svc.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("HTTP API failed", "error", err)
				cancel()
			}
		}()
	}

	err = svc.Work(ctx)

	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Error("HTTP API shutdown failed", "error", shutdownErr)
		}
	}
	return err
}

func runDispatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := couponqueue.SignalContext(cmd.Context())
	defer cancel()

	action := item.Action(dispatchAction)

	items, err := dispatchItems(action)
	if err != nil {
		return err
	}

	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Processor().Dispatch(ctx, action, items...); err != nil {
		if errors.IsProcessRunning(err) {
			return fmt.Errorf("a run is already in progress; wait for it or cancel it")
		}
		return err
	}

	if !dispatchWait {
		status, err := svc.Processor().Status(ctx)
		if err != nil {
			return err
		}
		fmt.Println(status.Message())
		return nil
	}

	if err := drain(ctx, svc); err != nil {
		return err
	}
	result, err := svc.Processor().ConsumeResult(ctx)
	if err != nil || result == nil {
		return err
	}
	fmt.Println(result.Message())
	return nil
}

// drain invokes the processor until the run is finished
func drain(ctx context.Context, svc *couponqueue.Service) error {
	for {
		outcome, err := svc.Processor().Run(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch outcome {
		case core.OutcomeRearmed:
		case core.OutcomeLocked:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Scheduler.Delay.Duration):
			}
		default:
			return nil
		}
	}
}
	fmt.Println(status.Message())
	return nil
}

func dispatchItems(action item.Action) ([]item.WorkItem, error) {
	switch action {
	case item.ActionGenerate, item.ActionGenerateEmail:
		if dispatchCount <= 0 {
			return nil, fmt.Errorf("--count must be positive")
		}
		items := make([]item.WorkItem, dispatchCount)
		for i := range items {
			items[i] = item.New(couponClass, "Generate", dispatchPrefix, dispatchLength)
		}
		return items, nil
	case item.ActionImport, item.ActionImportEmail:
		if len(dispatchCodes) == 0 {
			return nil, fmt.Errorf("--codes is required for %s", action)
		}
		items := make([]item.WorkItem, len(dispatchCodes))
		for i, code := range dispatchCodes {
			items[i] = item.New(couponClass, "Import", code)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownAction, action)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if !dispatchWait {
		status, err := svc.Processor().Status(ctx)
		if err != nil {
			return err
		}
		fmt.Println(status.Message())
		return nil
	}

	if err := drain(ctx, svc); err != nil {
		return err
	}
	result, err := svc.Processor().ConsumeResult(ctx)
	if err != nil || result == nil {
		return err
	}
	fmt.Println(result.Message())
	return nil
}

// drain invokes the processor until the run is finished
func drain(ctx context.Context, svc *couponqueue.Service) error {
	for {
		outcome, err := svc.Processor().Run(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch outcome {
		case core.OutcomeRearmed:
		case core.OutcomeLocked:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Scheduler.Delay.Duration):
			}
		default:
			return nil
		}
	}
}
	if msg := status.Message(); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	return printJSON(status)
}

func runResult(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.Processor().ConsumeResult(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Println("No completed run.")
		return nil
	}
	fmt.Println(result.Action.Title())
	fmt.Println(result.Message())
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Processor().Cancel(ctx); err != nil {
		if errors.IsProcessRunning(err) {
			return fmt.Errorf("an invocation is in progress; try again shortly")
		}
		return err
	}
	fmt.Println("Run cancelled.")
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Processor().Unlock(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
