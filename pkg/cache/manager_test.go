package cache

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis on DB 15 and skips the test when
// none is running. Container-backed tests live behind the integration tag.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func searchKey(offset string) Key {
	return Key{
		Endpoint: "/inscriptions/search",
		Query:    url.Values{"province": []string{"Dalmatia"}, "offset": []string{offset}},
	}
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client, Config{})
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
	if manager.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want DefaultTTL", manager.TTL())
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, DefaultConfig())
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t), DefaultConfig())
	ctx := context.Background()

	entry := &Entry{
		Data:       []byte(`{"items":[{"id":"HD000001"}],"total":1}`),
		ETag:       `"abc123"`,
		StatusCode: 200,
		Expires:    time.Now().Add(5 * time.Minute),
		CachedAt:   time.Now(),
	}

	if err := manager.Set(ctx, searchKey("0"), entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := manager.Get(ctx, searchKey("0"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data = %s, want %s", got.Data, entry.Data)
	}
	if got.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", got.StatusCode)
	}

	if _, err := manager.Get(ctx, searchKey("20")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get of another page = %v, want ErrCacheMiss", err)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t), DefaultConfig())

	if _, err := manager.Get(context.Background(), searchKey("0")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Set_ExpiredEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t), DefaultConfig())
	ctx := context.Background()

	entry := &Entry{
		Data:    []byte(`{}`),
		Expires: time.Now().Add(-1 * time.Hour),
	}
	if err := manager.Set(ctx, searchKey("0"), entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, searchKey("0")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestManager_Get_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, DefaultConfig())
	ctx := context.Background()

	if err := client.Set(ctx, searchKey("0").String(), "not json", time.Minute).Err(); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Get(ctx, searchKey("0")); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupTestRedis(t), DefaultConfig())
	ctx := context.Background()

	entry := &Entry{Data: []byte(`{}`), Expires: time.Now().Add(5 * time.Minute)}
	if err := manager.Set(ctx, searchKey("0"), entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := manager.Delete(ctx, searchKey("0")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Get(ctx, searchKey("0")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t), DefaultConfig())

	if err := manager.Set(context.Background(), searchKey("0"), nil); err == nil {
		t.Error("Set with nil entry should return error")
	}
}
