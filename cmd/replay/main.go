package main

import (
	"flag"
	"os"

	"main/internal/feed"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/replay"
	"main/internal/schedule"
	"main/internal/schema"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}

func main() {
	configPath := flag.String("config", "", "path to JSON run config")
	profile := flag.Bool("profile", false, "enable pyroscope profiling")
	profileAddr := flag.String("profile-addr", "http://localhost:4040", "pyroscope server address")
	flag.Parse()

	if *profile {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "marketreplay",
			ServerAddress:   *profileAddr,
			Tags: map[string]string{
				"env": "local",
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("start profiler, err: %+v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	if err := run(*configPath); err != nil {
		logs.Errorf("replay: %+v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	processor, err := schedule.NewProcessor(loaded.Processor)
	if err != nil {
		return err
	}
	sched, err := processor.Process(loader(loaded))
	if err != nil {
		return err
	}
	logs.Infof("schedule ready: keys=%d events=%d cache=%s", sched.Len(), sched.EventCount(), processor.CachePath())

	kernel := &localKernel{}
	driver, closeJournal, err := buildDriver(loaded, sched, kernel)
	if err != nil {
		return err
	}
	defer closeJournal()

	metrics := obs.NewMetrics()
	driver.WithMetrics(metrics)
	logs.Infof("kickoff %s after market open", driver.WakeFrequency(loaded.MarketOpen.UnixNano()))

	if err := dryRun(driver, kernel); err != nil {
		return err
	}

	snap := metrics.Snapshot()
	logs.Infof("last trade: %s", schema.FormatScaled(driver.LastTrade(), loaded.Feed.PriceScale))
	logs.Infof("dispatch: count=%d avg=%s max=%s restores=%d", snap.DispatchLatency.Count, snap.DispatchLatency.Avg, snap.DispatchLatency.Max, snap.Restores)
	for kind, count := range snap.KindCounts {
		logs.Infof("dispatched %s: %d", kind, count)
	}
	return nil
}

// loader opens the configured raw source with the reader matching its format.
func loader(loaded ops.Loaded) func() ([]schema.Event, error) {
	return func() ([]schema.Event, error) {
		file, err := os.Open(loaded.SourcePath)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		switch loaded.SourceFormat {
		case "binary":
			reader, err := feed.NewBinaryReader(loaded.Feed)
			if err != nil {
				return nil, err
			}
			return reader.Read(file)
		case "columnar":
			reader, err := feed.NewColumnarReader(loaded.Feed)
			if err != nil {
				return nil, err
			}
			return reader.Read(file)
		default:
			reader, err := feed.NewDelimitedReader(loaded.Feed)
			if err != nil {
				return nil, err
			}
			return reader.Read(file)
		}
	}
}

func buildDriver(loaded ops.Loaded, sched *schedule.Schedule, kernel *localKernel) (*replay.Driver, func(), error) {
	book := newMemoryBook(loaded.Replay.Symbol)
	driver := replay.NewDriver(sched, book, kernel, loaded.Replay)
	book.onFill = func(fill replay.Fill, tsNano int64) {
		driver.OnOrderFilled(fill, tsNano)
	}

	closeJournal := func() {}
	if loaded.Journal != nil {
		store, err := journal.Open(*loaded.Journal)
		if err != nil {
			return nil, nil, err
		}
		logs.Infof("journal run: %s", store.RunID())
		driver.WithJournal(store)
		closeJournal = func() { _ = store.Close() }
	}

	return driver, closeJournal, nil
}

// dryRun stands in for the simulation kernel: it delivers wake-ups until the
// driver reports completion or shutdown is requested.
func dryRun(driver *replay.Driver, kernel *localKernel) error {
	now := driver.FirstWakeup()
	wakeups := 0
	for {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown requested, abandoning schedule")
			return nil
		default:
		}

		kernel.reset()
		if err := driver.OnWakeup(now); err != nil {
			return err
		}
		wakeups++
		next, ok := kernel.take()
		if !ok {
			break
		}
		now = next
	}

	logs.Infof("dry run complete: wakeups=%d trades=%d", wakeups, len(driver.ExecutedTrades()))
	return nil
}

// localKernel records the next requested activation.
type localKernel struct {
	next int64
	has  bool
}

func (k *localKernel) ScheduleWakeup(tsNano int64) {
	k.next = tsNano
	k.has = true
}

func (k *localKernel) reset() {
	k.has = false
}

func (k *localKernel) take() (int64, bool) {
	return k.next, k.has
}

// memoryBook is a minimal resting-order table for dry runs. Market orders
// fill immediately at their submitted size.
type memoryBook struct {
	symbol  string
	resting map[int64]int64
	onFill  func(replay.Fill, int64)
	clock   int64
}

func newMemoryBook(symbol string) *memoryBook {
	return &memoryBook{symbol: symbol, resting: make(map[int64]int64)}
}

func (b *memoryBook) RestingOrder(orderID int64) (int64, bool) {
	qty, ok := b.resting[orderID]
	return qty, ok
}

func (b *memoryBook) PlaceLimitOrder(_ string, quantity int64, _ bool, _ int64, orderID int64) {
	b.resting[orderID] = quantity
}

func (b *memoryBook) CancelOrder(orderID int64) {
	delete(b.resting, orderID)
}

func (b *memoryBook) ModifyOrder(orderID int64, _ string, quantity int64, _ bool, _ int64) {
	if quantity <= 0 {
		delete(b.resting, orderID)
		return
	}
	b.resting[orderID] = quantity
}

func (b *memoryBook) PlaceMarketOrder(_ string, quantity int64, isBuy bool, orderID int64) {
	if b.onFill == nil {
		return
	}
	b.clock++
	b.onFill(replay.Fill{
		OrderID:   orderID,
		Quantity:  quantity,
		FillPrice: 0,
		IsBuy:     isBuy,
	}, b.clock)
}
