package schedule

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/stretchr/testify/require"
)

func buildTestSchedule(t *testing.T) *Schedule {
	t.Helper()
	events := []schema.Event{
		{TsNano: 1000, OrderID: 1, Size: 100, Price: 10125, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		{TsNano: 1000, OrderID: 2, Size: 50, Price: 10120, Direction: schema.DirectionSell, Kind: schema.KindModify},
		{TsNano: 3000, OrderID: 3, Size: 0, Price: 0, Direction: schema.DirectionBuy, Kind: schema.KindCancel},
	}
	s, err := Build(events, 0, 10_000)
	require.NoError(t, err)
	return s
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roundtrip.sched")
	s := buildTestSchedule(t)

	require.NoError(t, WriteCache(path, s))
	loaded, err := ReadCache(path)
	require.NoError(t, err)

	require.Equal(t, s.Keys(), loaded.Keys())
	require.True(t, s.Equal(loaded), "round-trip must reproduce key order and all record fields")
}

func TestCacheWriteIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	s := buildTestSchedule(t)

	first := filepath.Join(dir, "a.sched")
	second := filepath.Join(dir, "b.sched")
	require.NoError(t, WriteCache(first, s))
	require.NoError(t, WriteCache(second, s))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	require.True(t, bytes.Equal(a, b), "serializing the same schedule twice must be byte-identical")
}

func TestCacheCorruptionIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.sched")
	require.NoError(t, WriteCache(path, buildTestSchedule(t)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[cacheHeaderSize+8] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = ReadCache(path)
	require.ErrorIs(t, err, exception.ErrCacheCorrupt)
}

func TestCacheTruncationIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "truncated.sched")
	require.NoError(t, WriteCache(path, buildTestSchedule(t)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-7], 0o644))

	_, err = ReadCache(path)
	require.ErrorIs(t, err, exception.ErrCacheCorrupt)
}

func TestCacheBadMagicIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "magic.sched")
	require.NoError(t, os.WriteFile(path, []byte("not a schedule cache at all"), 0o644))

	_, err := ReadCache(path)
	require.ErrorIs(t, err, exception.ErrCacheCorrupt)
}

func TestCachePath(t *testing.T) {
	date := time.Date(2021, 3, 22, 0, 0, 0, 0, time.UTC)
	got := CachePath("/data/out", "marketreplay", "USD000UTSTOM", date)
	want := filepath.Join("/data/out", "marketreplay_USD000UTSTOM_2021-03-22.sched")
	if got != want {
		t.Fatalf("CachePath = %s, want %s", got, want)
	}
}
