// Package storagepipeline is the host storage monitoring collector: two
// periodic schedules (slow: pool/dataset/disk inventory; frequent:
// iostat + ARC) that parse command output and bulk upsert the resulting
// records through a bounded-concurrency BatchProcessor.
package storagepipeline

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Makr91/zoneweaver-api-sub001/internal/cmdrunner"
	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
	"github.com/Makr91/zoneweaver-api-sub001/internal/parse"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

const (
	defaultSlowInterval     = 5 * time.Minute
	defaultFrequentInterval = 30 * time.Second
	backoffInterval         = 15 * time.Minute
	errorThreshold          = 3
)

// BatchProcessor breaks insert lists into chunks and issues bulk upserts
// with bounded fan-out concurrency.
type BatchProcessor struct {
	chunkSize int
	sem       *semaphore.Weighted
}

// NewBatchProcessor builds a processor chunking at chunkSize items with
// at most concurrency simultaneous chunk upserts in flight.
func NewBatchProcessor(chunkSize, concurrency int) *BatchProcessor {
	if chunkSize <= 0 {
		chunkSize = 200
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BatchProcessor{chunkSize: chunkSize, sem: semaphore.NewWeighted(int64(concurrency))}
}

// UpsertChunked bulk-upserts items in chunks of the processor's
// configured size, bounded by its concurrency semaphore.
func UpsertChunked[T any](ctx context.Context, bp *BatchProcessor, table *store.TableHandle[T], items map[string]T) error {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, (len(keys)/bp.chunkSize)+1)

	for i := 0; i < len(keys); i += bp.chunkSize {
		end := i + bp.chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunkKeys := keys[i:end]

		if err := bp.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		wg.Add(1)
		go func(chunkKeys []string) {
			defer wg.Done()
			defer bp.sem.Release(1)

			chunk := make(map[string]T, len(chunkKeys))
			for _, k := range chunkKeys {
				chunk[k] = items[k]
			}
			if err := table.BulkUpsert(chunk); err != nil {
				errCh <- err
			}
		}(chunkKeys)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// Pipeline is the collector singleton.
type Pipeline struct {
	repo     *store.Repo
	bp       *BatchProcessor
	hostname string

	retentionDays int

	mu             sync.Mutex
	slowInterval   time.Duration
	freqInterval   time.Duration

	stopCh chan struct{}
}

// New builds a Pipeline bound to repo, defaulting to a hostname read
// from os.Hostname().
func New(repo *store.Repo, retentionDays int) *Pipeline {
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	return &Pipeline{
		repo:          repo,
		bp:            NewBatchProcessor(200, 4),
		hostname:      host,
		retentionDays: retentionDays,
		slowInterval:  defaultSlowInterval,
		freqInterval:  defaultFrequentInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start launches both periodic schedules.
func (p *Pipeline) Start(ctx context.Context) {
	go p.loop(ctx, func() time.Duration { return p.currentSlowInterval() }, p.slowCycle)
	go p.loop(ctx, func() time.Duration { return p.freqInterval }, p.frequentCycle)
}

// Stop halts both schedules.
func (p *Pipeline) Stop() {
	close(p.stopCh)
}

func (p *Pipeline) currentSlowInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slowInterval
}

func (p *Pipeline) loop(ctx context.Context, interval func() time.Duration, cycle func(context.Context) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-time.After(interval()):
			if err := cycle(ctx); err != nil {
				minilog.Error("storagepipeline: cycle failed: %v", err)
			}
		}
	}
}

// safeExecuteCommand wraps a single command call so that a failure does
// not fail the whole collection cycle; one dead disk must not stop the
// scan.
func safeExecuteCommand(ctx context.Context, cmdLine string) (string, bool) {
	res := cmdrunner.Run(ctx, cmdLine)
	if !res.Success {
		minilog.Warn("storagepipeline: %q failed: %s", cmdLine, res.Error)
		return "", false
	}
	return res.Stdout, true
}

// liveZoneNames runs `zoneadm list` once per slow cycle for
// zone-dataset filtering.
func liveZoneNames(ctx context.Context) map[string]bool {
	out, ok := safeExecuteCommand(ctx, "zoneadm list")
	zones := map[string]bool{}
	if !ok {
		return zones
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name := strings.TrimSpace(line)
		if name != "" {
			zones[name] = true
		}
	}
	return zones
}

func (p *Pipeline) onCycleResult(success bool) {
	info, found, _ := p.repo.HostInfo.Get(p.hostname)
	if !found {
		info = store.HostInfo{Hostname: p.hostname}
	}

	if success {
		info.ErrorCount = 0
		p.mu.Lock()
		p.slowInterval = defaultSlowInterval
		p.mu.Unlock()
	} else {
		info.ErrorCount++
		if info.ErrorCount >= errorThreshold {
			p.mu.Lock()
			p.slowInterval = backoffInterval
			p.mu.Unlock()
		}
	}
	info.LastStorageScan = time.Now()
	_ = p.repo.HostInfo.Put(p.hostname, info)
}

// slowCycle runs collectPoolData + collectExtendedPoolData +
// collectDiskData + collectDatasetData in parallel.
func (p *Pipeline) slowCycle(ctx context.Context) error {
	zones := liveZoneNames(ctx)

	var wg sync.WaitGroup
	results := make([]bool, 4)

	wg.Add(4)
	go func() { defer wg.Done(); results[0] = p.collectPoolData(ctx) }()
	go func() { defer wg.Done(); results[1] = p.collectExtendedPoolData(ctx) }()
	go func() { defer wg.Done(); results[2] = p.collectDiskData(ctx) }()
	go func() { defer wg.Done(); results[3] = p.collectDatasetData(ctx, zones) }()
	wg.Wait()

	ok := true
	for _, r := range results {
		ok = ok && r
	}
	p.onCycleResult(ok)

	p.runRetention()
	return nil
}

func (p *Pipeline) collectPoolData(ctx context.Context) bool {
	out, ok := safeExecuteCommand(ctx, "zpool list")
	if !ok {
		return false
	}

	pools, err := parse.ParseZpoolList(out)
	if err != nil {
		minilog.Warn("storagepipeline: parsing zpool list: %v", err)
		return false
	}

	now := time.Now()
	items := make(map[string]store.ZFSPoolRecord, len(pools))
	for _, pl := range pools {
		rec := store.ZFSPoolRecord{
			Host:        p.hostname,
			ScannedAt:   now,
			Name:        pl.Name,
			Size:        pl.Size,
			SizeBytes:   pl.SizeBytes,
			Alloc:       pl.Alloc,
			AllocBytes:  pl.AllocBytes,
			Free:        pl.Free,
			FreeBytes:   pl.FreeBytes,
			CapacityPct: pl.CapacityPct,
			Health:      pl.Health,
		}
		items[p.hostname+"/"+pl.Name] = rec
	}

	return UpsertChunked(ctx, p.bp, p.repo.ZFSPools, items) == nil
}

// collectExtendedPoolData issues `zpool status` for topology detail.
// There is no dedicated per-vdev table, so this cycle only validates the
// parse and surfaces errors; the pool-level record is what persists.
func (p *Pipeline) collectExtendedPoolData(ctx context.Context) bool {
	out, ok := safeExecuteCommand(ctx, "zpool status")
	if !ok {
		return false
	}
	if _, err := parse.ParseZpoolStatus(out); err != nil {
		minilog.Warn("storagepipeline: parsing zpool status: %v", err)
		return false
	}
	return true
}

func (p *Pipeline) collectDiskData(ctx context.Context) bool {
	out, ok := safeExecuteCommand(ctx, "echo | format")
	if !ok {
		return false
	}

	disks, err := parse.ParseFormatOutput(out)
	if err != nil {
		minilog.Warn("storagepipeline: parsing format output: %v", err)
		return false
	}

	now := time.Now()
	items := make(map[string]store.DiskRecord, len(disks))
	for _, d := range disks {
		items[p.hostname+"/"+d.Device] = store.DiskRecord{
			Host:        p.hostname,
			ScannedAt:   now,
			DeviceName:  d.Device,
			Vendor:      d.Vendor,
			Model:       d.Model,
			CapacityRaw: d.CapacityRaw,
			DiskType:    d.DiskType,
			Interface:   d.Interface,
		}
	}

	return UpsertChunked(ctx, p.bp, p.repo.Disks, items) == nil
}

// collectDatasetData keeps only datasets whose path names a discovered
// zone, then issues `zfs get all` per surviving dataset with bounded
// concurrency.
func (p *Pipeline) collectDatasetData(ctx context.Context, zones map[string]bool) bool {
	out, ok := safeExecuteCommand(ctx, "zfs list -H -o name,used,avail,refer,mountpoint")
	if !ok {
		return false
	}

	datasets, err := parse.ParseZfsList(out)
	if err != nil {
		minilog.Warn("storagepipeline: parsing zfs list: %v", err)
		return false
	}

	now := time.Now()
	items := make(map[string]store.ZFSDatasetRecord)

	var sem = semaphore.NewWeighted(4)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, ds := range datasets {
		top := strings.SplitN(ds.Name, "/", 3)
		var zoneName string
		if len(top) >= 2 && zones[top[1]] {
			zoneName = top[1]
		} else {
			continue
		}

		ds := ds
		if err := sem.Acquire(ctx, 1); err != nil {
			return false
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			props := map[string]string{}
			if propOut, ok := safeExecuteCommand(ctx, "zfs get all "+shellQuoteArg(ds.Name)); ok {
				if parsed, err := parse.ParseZfsGetAll(propOut); err == nil {
					if m, ok := parsed[ds.Name]; ok {
						props = m
					}
				}
			}

			mu.Lock()
			items[p.hostname+"/"+ds.Name] = store.ZFSDatasetRecord{
				Host:       p.hostname,
				ScannedAt:  now,
				Name:       ds.Name,
				ZoneName:   zoneName,
				UsedBytes:  ds.UsedBytes,
				AvailBytes: ds.AvailBytes,
				ReferBytes: ds.ReferBytes,
				Mountpoint: ds.Mountpoint,
				Properties: props,
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return UpsertChunked(ctx, p.bp, p.repo.ZFSDatasets, items) == nil
}

// frequentCycle issues one `zpool iostat -l -H -v 1 2` call yielding both
// pool and disk IO, plus one ARC kstat read.
func (p *Pipeline) frequentCycle(ctx context.Context) error {
	out, ok := safeExecuteCommand(ctx, "zpool iostat -l -H -v 1 2")
	if ok {
		pools, disks, err := parse.ParseZpoolIostatLV(out)
		if err != nil {
			minilog.Warn("storagepipeline: parsing zpool iostat: %v", err)
		} else {
			now := time.Now()

			poolItems := make(map[string]store.PoolIOStatRecord, len(pools))
			for _, pl := range pools {
				id, _ := randomKey()
				poolItems[id] = store.PoolIOStatRecord{
					Host: p.hostname, ScannedAt: now, Pool: pl.Pool, PoolType: pl.PoolType,
					OpsRead: pl.OpsRead, OpsWrite: pl.OpsWrite, BwRead: pl.BwRead, BwWrite: pl.BwWrite,
				}
			}
			_ = UpsertChunked(ctx, p.bp, p.repo.PoolIOStats, poolItems)

			diskItems := make(map[string]store.DiskIOStatRecord, len(disks))
			for _, d := range disks {
				id, _ := randomKey()
				diskItems[id] = store.DiskIOStatRecord{
					Host: p.hostname, ScannedAt: now, Pool: d.Pool, Device: d.Device,
					OpsRead: d.OpsRead, OpsWrite: d.OpsWrite, BwRead: d.BwRead, BwWrite: d.BwWrite,
				}
			}
			_ = UpsertChunked(ctx, p.bp, p.repo.DiskIOStats, diskItems)
		}
	}

	if out, ok := safeExecuteCommand(ctx, "kstat -p zfs:0:arcstats:"); ok {
		if stats, err := parse.ParseArcStats(out); err == nil {
			id, _ := randomKey()
			rec := store.ARCStatsRecord{
				Host: p.hostname, ScannedAt: time.Now(),
				Size: stats.Size, TargetSize: stats.TargetSize,
				Hits: stats.Hits, Misses: stats.Misses, HitRatio: stats.HitRatio,
			}
			_ = p.repo.ARCStats.Create(id, rec)
		}
	}

	return nil
}

// runRetention deletes rows older than the configured retention window
// from every storage table.
func (p *Pipeline) runRetention() {
	cutoff := time.Now().AddDate(0, 0, -p.retentionDays)

	older := func(t time.Time) bool { return t.Before(cutoff) }

	if _, err := p.repo.ZFSPools.DestroyWhere(func(r store.ZFSPoolRecord) bool { return older(r.ScannedAt) }); err != nil {
		minilog.Warn("storagepipeline: retention zfs_pools: %v", err)
	}
	if _, err := p.repo.ZFSDatasets.DestroyWhere(func(r store.ZFSDatasetRecord) bool { return older(r.ScannedAt) }); err != nil {
		minilog.Warn("storagepipeline: retention zfs_datasets: %v", err)
	}
	if _, err := p.repo.Disks.DestroyWhere(func(r store.DiskRecord) bool { return older(r.ScannedAt) }); err != nil {
		minilog.Warn("storagepipeline: retention disks: %v", err)
	}
	if _, err := p.repo.PoolIOStats.DestroyWhere(func(r store.PoolIOStatRecord) bool { return older(r.ScannedAt) }); err != nil {
		minilog.Warn("storagepipeline: retention pool_io_stats: %v", err)
	}
	if _, err := p.repo.DiskIOStats.DestroyWhere(func(r store.DiskIOStatRecord) bool { return older(r.ScannedAt) }); err != nil {
		minilog.Warn("storagepipeline: retention disk_io_stats: %v", err)
	}
	if _, err := p.repo.ARCStats.DestroyWhere(func(r store.ARCStatsRecord) bool { return older(r.ScannedAt) }); err != nil {
		minilog.Warn("storagepipeline: retention arc_stats: %v", err)
	}
}

func shellQuoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// randomKey generates a fresh primary key for row-per-sample tables
// (iostat/ARC) that have no natural unique key.
func randomKey() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
