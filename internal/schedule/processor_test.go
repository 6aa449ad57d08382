package schedule

import (
	"testing"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/stretchr/testify/require"
)

func processorConfig(t *testing.T) ProcessorConfig {
	t.Helper()
	date := time.Date(2021, 3, 22, 0, 0, 0, 0, time.UTC)
	return ProcessorConfig{
		Symbol:     "USD000UTSTOM",
		Date:       date,
		Start:      date,
		End:        date.Add(24 * time.Hour),
		CacheDir:   t.TempDir(),
		FilePrefix: "marketreplay",
	}
}

func TestProcessorCachesAndShortCircuits(t *testing.T) {
	cfg := processorConfig(t)
	base := cfg.Start.UnixNano()

	loads := 0
	load := func() ([]schema.Event, error) {
		loads++
		return []schema.Event{
			{TsNano: base + 1000, OrderID: 1, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
			{TsNano: base + 2000, OrderID: 2, Size: 50, Price: 102, Direction: schema.DirectionSell, Kind: schema.KindNew},
		}, nil
	}

	p, err := NewProcessor(cfg)
	require.NoError(t, err)

	first, err := p.Process(load)
	require.NoError(t, err)
	require.Equal(t, 1, loads)
	require.Equal(t, 2, first.EventCount())

	// Second run must come from cache and never re-read the raw source.
	second, err := p.Process(load)
	require.NoError(t, err)
	require.Equal(t, 1, loads)
	require.True(t, first.Equal(second))
}

func TestProcessorSynthesizesCompensations(t *testing.T) {
	cfg := processorConfig(t)
	cfg.SynthesizeCompensation = true
	base := cfg.Start.UnixNano()

	load := func() ([]schema.Event, error) {
		return []schema.Event{
			{TsNano: base + 1000, OrderID: 5, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindReject},
			{TsNano: base + 2000, OrderID: 6, Size: 10, Price: 102, Direction: schema.DirectionBuy, Kind: schema.KindResting},
		}, nil
	}

	p, err := NewProcessor(cfg)
	require.NoError(t, err)
	s, err := p.Process(load)
	require.NoError(t, err)

	require.Equal(t, 2, s.EventCount(), "one reject plus its compensation; other kinds dropped")
	require.Equal(t, schema.KindReject, s.At(s.FirstKey())[0].Kind)

	keys := s.Keys()
	last := s.At(keys[len(keys)-1])[0]
	require.Equal(t, schema.KindCompensation, last.Kind)
	require.Equal(t, schema.DirectionSell, last.Direction)
	require.Equal(t, base+1000+int64(2*time.Second), last.TsNano)
}

func TestProcessorCompensationSurvivesWindowEnd(t *testing.T) {
	cfg := processorConfig(t)
	cfg.SynthesizeCompensation = true
	end := cfg.End.UnixNano()

	load := func() ([]schema.Event, error) {
		return []schema.Event{
			// One second before the window closes; the unwind lands past End.
			{TsNano: end - int64(time.Second), OrderID: 5, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindReject},
			// Past the window: dropped before synthesis, no unwind owed.
			{TsNano: end + int64(time.Second), OrderID: 9, Size: 10, Price: 101, Direction: schema.DirectionSell, Kind: schema.KindReject},
		}, nil
	}

	p, err := NewProcessor(cfg)
	require.NoError(t, err)
	s, err := p.Process(load)
	require.NoError(t, err)

	require.Equal(t, 2, s.EventCount(), "reject plus its compensation must both be scheduled")
	keys := s.Keys()
	comp := s.At(keys[len(keys)-1])[0]
	require.Equal(t, schema.KindCompensation, comp.Kind)
	require.Equal(t, end+int64(time.Second), comp.TsNano)
	require.Equal(t, int64(10), comp.OrderID, "id offset comes from the rejects inside the window")
}

func TestProcessorEmptyWindowFatal(t *testing.T) {
	cfg := processorConfig(t)
	load := func() ([]schema.Event, error) {
		// Before the window opens.
		return []schema.Event{
			{TsNano: cfg.Start.UnixNano() - 1, OrderID: 1, Size: 1, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		}, nil
	}

	p, err := NewProcessor(cfg)
	require.NoError(t, err)
	_, err = p.Process(load)
	require.ErrorIs(t, err, exception.ErrEmptySchedule)
}
