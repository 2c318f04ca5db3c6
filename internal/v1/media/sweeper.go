package media

import (
	"context"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"go.uber.org/zap"
)

// runSweeper periodically force-closes resources whose owner is gone or
// whose age exceeds the configured maximum.
func (a *Adapter) runSweeper(ctx context.Context) {
	ticker := a.cfg.Clock.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			a.Sweep(ctx)
		}
	}
}

// Sweep runs one orphan pass. A child resource is an orphan when its owning
// transport is no longer tracked, or when it has outlived ResourceMaxAge.
// Transports past the age limit with no live children are swept too.
func (a *Adapter) Sweep(ctx context.Context) (swept int) {
	now := a.cfg.Clock.Now()

	type victim struct {
		kind ResourceKind
		id   string
	}
	var victims []victim

	for _, kind := range []ResourceKind{KindProducer, KindConsumer, KindDataProducer, KindDataConsumer} {
		mu, m := a.categoryLock(kind)
		mu.Lock()
		snapshot := make(map[string]resourceEntry, len(m))
		for id, entry := range m {
			snapshot[id] = *entry
		}
		mu.Unlock()

		for id, entry := range snapshot {
			if now.Sub(entry.createdAt) > a.cfg.ResourceMaxAge || !a.HasTransport(entry.transportID) {
				victims = append(victims, victim{kind, id})
			}
		}
	}

	for _, v := range victims {
		var err error
		switch v.kind {
		case KindProducer:
			err = a.CloseProducer(ctx, v.id)
		case KindConsumer:
			err = a.CloseConsumer(ctx, v.id)
		case KindDataProducer:
			err = a.CloseDataProducer(ctx, v.id)
		case KindDataConsumer:
			err = a.CloseDataConsumer(ctx, v.id)
		}
		swept++
		logging.Info(ctx, "Swept orphaned media resource",
			zap.String("room", string(a.roomID)),
			zap.String("kind", string(v.kind)),
			zap.String("resourceId", v.id),
			zap.Error(err))
	}

	a.muT.Lock()
	var staleTransports []string
	for id, entry := range a.transports {
		if now.Sub(entry.createdAt) <= a.cfg.ResourceMaxAge {
			continue
		}
		live := 0
		for _, set := range entry.children {
			live += len(set)
		}
		if live == 0 {
			staleTransports = append(staleTransports, id)
		}
	}
	a.muT.Unlock()

	for _, id := range staleTransports {
		if err := a.CloseTransport(ctx, id); err != nil {
			logging.Warn(ctx, "Failed to sweep stale transport",
				zap.String("room", string(a.roomID)), zap.String("transportId", id), zap.Error(err))
		}
		swept++
	}
	return swept
}
