package cache

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
)

const flowListMaxLen = 5000

// MirrorFlow pushes rec's JSON encoding onto a capped Redis list so a
// separate process (the log viewer, a dashboard) can tail recent flow
// records without sharing this process's in-memory ring. A no-op when
// Redis caching isn't enabled.
func MirrorFlow(prefix string, rec any) {
	if !IsEnabled() {
		return
	}
	client := GetClient()
	if client == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		log.Warnf("cache: marshal flow record for mirror failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := prefix + "flows"
	pipe := client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, flowListMaxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("cache: mirror flow record failed: %v", err)
	}
}
