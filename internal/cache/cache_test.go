package cache

import (
	"context"
	"testing"
	"time"

	"github.com/smellreg/smellreg/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)
		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, tenantID, "key2"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		clocked := NewLRUCache(10)
		now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
		clocked.now = func() time.Time { return now }

		_ = clocked.Set(ctx, tenantID, "expiring", []byte("temp"), time.Minute)
		if val, _ := clocked.Get(ctx, tenantID, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(2 * time.Minute)
		if val, _ := clocked.Get(ctx, tenantID, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := clocked.Stats(); size != 0 {
			t.Errorf("expired entry should be dropped, size %d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)
		_ = small.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		_, _ = small.Get(ctx, tenantID, "a")
		_ = small.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, tenantID, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, tenantID, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")
		if string(val1) != "tenant1-value" || string(val2) != "tenant2-value" {
			t.Errorf("tenants leaked: %q %q", val1, val2)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID on Set")
		}
		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID on Get")
		}
		if _, err := cache.GetReport(ctx, "", "COMP-1"); err == nil {
			t.Error("expected error for empty tenantID on GetReport")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 || capacity != 50 {
			t.Errorf("expected 2/50, got %d/%d", size, capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)
		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := testCache.Get(ctx, tenantID, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestReportCache(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(10)

	report := &domain.ComplianceReport{
		ID:                "rep-1",
		CertificateNumber: "COMP-20261019-ABCDEF12-XYZ",
		FormulaName:       "Citrus Cologne",
		IsCompliant:       false,
		NonCompliant: []domain.Finding{{
			Market: domain.MarketEU, Family: domain.FamilyConcentration, List: "IFRA-51",
			CAS: "91-64-5", Severity: domain.SeverityViolation, Observed: 2, Limit: 1.6,
		}},
		ReferenceRevision: "2026.10+deadbeef",
	}

	t.Run("RoundTrip", func(t *testing.T) {
		if err := cache.SetReport(ctx, "tenant-a", report, time.Hour); err != nil {
			t.Fatalf("SetReport failed: %v", err)
		}
		got, err := cache.GetReport(ctx, "tenant-a", report.CertificateNumber)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if got == nil || got.ID != "rep-1" || len(got.NonCompliant) != 1 || got.NonCompliant[0].Limit != 1.6 {
			t.Errorf("unexpected cached report %+v", got)
		}
	})

	t.Run("OtherTenantMisses", func(t *testing.T) {
		got, err := cache.GetReport(ctx, "tenant-b", report.CertificateNumber)
		if err != nil || got != nil {
			t.Errorf("expected miss, got %+v, %v", got, err)
		}
	})

	t.Run("RequiresCertificate", func(t *testing.T) {
		if err := cache.SetReport(ctx, "tenant-a", &domain.ComplianceReport{ID: "x"}, time.Hour); err == nil {
			t.Error("expected error for report without certificate")
		}
	})

	t.Run("CorruptEntry", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-a", reportKey("COMP-BAD"), []byte("{not json"), time.Hour)
		if _, err := cache.GetReport(ctx, "tenant-a", "COMP-BAD"); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
