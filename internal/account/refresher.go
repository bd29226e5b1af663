package account

import (
	"context"

	"github.com/petehsu/KiroProxy/internal/auth/kiro"
	"github.com/petehsu/KiroProxy/internal/config"
	log "github.com/sirupsen/logrus"
)

// StartRefresher wires the store into kiro.BackgroundRefresher: every
// refresh-interval tick (and once immediately), the oldest-expiring
// accounts are refreshed, and cfg is persisted after each successful
// refresh so a restart doesn't immediately re-trigger the grace window.
func StartRefresher(ctx context.Context, store *Store, cfg *config.Config) *kiro.BackgroundRefresher {
	r := kiro.NewBackgroundRefresher(
		store,
		kiro.WithConfig(cfg),
		kiro.WithInterval(cfg.RefreshInterval),
		kiro.WithOnTokenRefreshed(func(tokenID string, tokenData *kiro.KiroTokenData) {
			cfg.SetAccounts(store.ExportToConfig())
			if err := cfg.Save(); err != nil {
				log.Warnf("account refresher: persist after refresh of %s failed: %v", tokenID, err)
			}
		}),
	)
	r.Start(ctx)
	return r
}
