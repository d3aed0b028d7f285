package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunRenewals calls RenewDue once immediately and then every interval until ctx is done.
// Failures are logged; the loop keeps going so one bad subscription does not stall the rest.
func (s *Service) RunRenewals(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		n, err := s.RenewDue(ctx, s.now())
		switch {
		case err != nil:
			s.log.Error("renewal run failed", zap.Int("renewed", n), zap.Error(err))
		case n > 0:
			s.log.Info("subscriptions renewed", zap.Int("renewed", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
