package cache

import (
	"context"
	"testing"
	"time"
)

// TestNoOpCache verifies that NoOpCache implements the Cache interface correctly
func TestNoOpCache(t *testing.T) {
	var cache Cache = NewNoOpCache()
	ctx := context.Background()

	// Test GetRow - should always return nil (cache miss)
	row, err := cache.GetRow(ctx, "test-key")
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if row != nil {
		t.Errorf("Expected nil row (cache miss), got %v", row)
	}

	// Test SetRow - should succeed silently
	err = cache.SetRow(ctx, "test-key", &Row{Image: []float32{1}, Text: []float32{0}}, 1*time.Hour)
	if err != nil {
		t.Errorf("Expected no error on SetRow, got %v", err)
	}

	// Verify it still returns nil (nothing was actually cached)
	row, err = cache.GetRow(ctx, "test-key")
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if row != nil {
		t.Errorf("Expected nil row (no-op cache doesn't store), got %v", row)
	}

	// Test Close - should succeed silently
	if err := cache.Close(); err != nil {
		t.Errorf("Expected no error on Close, got %v", err)
	}
}

func TestKey(t *testing.T) {
	a := Key("m", []byte{1, 2, 3}, "a red square")
	if a != Key("m", []byte{1, 2, 3}, "a red square") {
		t.Error("expected stable key")
	}
	variants := []string{
		Key("other", []byte{1, 2, 3}, "a red square"),
		Key("m", []byte{1, 2, 4}, "a red square"),
		Key("m", []byte{1, 2, 3}, "a blue square"),
	}
	for i, v := range variants {
		if v == a {
			t.Errorf("variant %d collides with base key", i)
		}
	}
}
