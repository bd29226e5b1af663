package cache

import (
	"context"
	"testing"

	"github.com/petehsu/KiroProxy/internal/config"
)

func TestIsEnabledDefaultsFalseUninitialized(t *testing.T) {
	if IsEnabled() {
		t.Fatal("expected IsEnabled to be false before InitRedisCache is ever called")
	}
	if GetClient() != nil {
		t.Fatal("expected GetClient to be nil before InitRedisCache is ever called")
	}
}

func TestInitRedisCacheNoopWhenDisabled(t *testing.T) {
	if err := InitRedisCache(config.RedisCacheConfig{Enabled: false}); err != nil {
		t.Fatalf("expected no error when caching is disabled, got %v", err)
	}
}

func TestInitRedisCacheRequiresAddrWhenEnabled(t *testing.T) {
	if err := InitRedisCache(config.RedisCacheConfig{Enabled: true, Addr: ""}); err == nil {
		t.Fatal("expected an error when enabling caching with no address")
	}
}

func TestPingFailsWhenNotEnabled(t *testing.T) {
	if err := Ping(context.Background()); err == nil {
		t.Fatal("expected Ping to fail when Redis caching isn't enabled")
	}
}

func TestMirrorFlowNoopWhenDisabled(t *testing.T) {
	// Must not panic even though no Redis client has ever been configured.
	MirrorFlow("test:", map[string]string{"id": "x"})
}
