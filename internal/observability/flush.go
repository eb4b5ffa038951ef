package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry syncs the logger during shutdown. Metrics are scraped, so
// there is nothing to push. Sync on a terminal or pipe reports EINVAL or
// ENOTTY on Linux; those are not treated as failures.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- logger.Sync() }()
	select {
	case err := <-done:
		if err == nil || isUnsyncable(err) {
			return nil
		}
		return fmt.Errorf("flush logs: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("flush logs: %w", ctx.Err())
	}
}

func isUnsyncable(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
