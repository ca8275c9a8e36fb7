package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coredb/internal/bufferpool"
	"coredb/internal/common"
	"coredb/internal/disk"
	"coredb/internal/txns"
)

func newDemoCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the pool-eviction and deadlock-detection walkthroughs from the design notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			logger := newLogger()
			defer logger.Sync()

			if err := runPoolEvictionDemo(cfg.PageSize, logger); err != nil {
				return fmt.Errorf("pool eviction demo: %w", err)
			}
			if err := runDeadlockDemo(cfg.CycleDetectionIntervalMS, logger); err != nil {
				return fmt.Errorf("deadlock demo: %w", err)
			}
			return nil
		},
	}
}

// runPoolEvictionDemo reproduces spec.md §8 scenario 1: pool_size=3, K=2,
// new_page three times, unpin p0 dirty, then a fourth new_page must evict
// p0 and write it back.
func runPoolEvictionDemo(pageSize int, logger *zap.Logger) error {
	d, err := disk.NewMemory(pageSize)
	if err != nil {
		return err
	}
	pool, err := bufferpool.New(3, pageSize, 2, d, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, p0, err := pool.NewPage()
	if err != nil {
		return err
	}
	if _, _, err := pool.NewPage(); err != nil {
		return err
	}
	if _, _, err := pool.NewPage(); err != nil {
		return err
	}
	if !pool.UnpinPage(p0, true) {
		return fmt.Errorf("expected to unpin p0")
	}

	frame, p3, err := pool.NewPage()
	if err != nil {
		return err
	}
	fmt.Printf("pool eviction demo: p3=%d resident (frame %d), p0=%d evicted and flushed\n", p3, frame.ID, p0)
	pool.UnpinPage(p3, false)
	return nil
}

// runDeadlockDemo reproduces spec.md §8 scenario 6: T1 holds X(a), wants
// X(b); T2 holds X(b), wants X(a). The detector aborts the younger txn.
func runDeadlockDemo(intervalMS int, logger *zap.Logger) error {
	mgr := txns.NewManager(logger)
	lm := mgr.LockManager()

	t1 := mgr.Begin(common.RepeatableRead)
	t2 := mgr.Begin(common.RepeatableRead)

	if ok, err := lm.LockTable(t1, txns.X, 1); err != nil || !ok {
		return fmt.Errorf("t1 failed to acquire X(a): %v", err)
	}
	if ok, err := lm.LockTable(t2, txns.X, 2); err != nil || !ok {
		return fmt.Errorf("t2 failed to acquire X(b): %v", err)
	}

	resultCh := make(chan string, 2)
	go func() {
		ok, _ := lm.LockTable(t1, txns.X, 2)
		resultCh <- fmt.Sprintf("t1(%d) request for X(b): granted=%v", t1.ID(), ok)
	}()
	go func() {
		ok, _ := lm.LockTable(t2, txns.X, 1)
		resultCh <- fmt.Sprintf("t2(%d) request for X(a): granted=%v", t2.ID(), ok)
	}()

	detector := txns.NewDeadlockDetector(mgr, time.Duration(intervalMS)*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	detector.Start(ctx)
	defer detector.Stop()

	for i := 0; i < 2; i++ {
		fmt.Println(<-resultCh)
	}
	return nil
}
