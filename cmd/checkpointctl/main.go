// Package main implements a CLI entry point demonstrating the checkpointing
// core end-to-end: parse flags, validate configuration, construct a backing
// store, and exercise the restore path over a small fixture log. It is not
// a production coordinator loop — deciding when to trigger a checkpoint
// belongs to the surrounding stream-processing engine, which is out of
// scope here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/s3streamer"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gurre/arroyo-checkpoint/backingstore"
	"github.com/gurre/arroyo-checkpoint/config"
	"github.com/gurre/arroyo-checkpoint/coordinator"
	"github.com/gurre/arroyo-checkpoint/kvtime"
	"github.com/gurre/arroyo-checkpoint/metrics"
	"github.com/gurre/arroyo-checkpoint/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("checkpointctl", flag.ExitOnError)

	jobID := fs.String("job", "demo-job", "Job identifier")
	operatorID := fs.String("operator", "demo-operator", "Operator to restore")
	backingStoreURI := fs.String("backing-store", "memory://", "Backing store URI (s3://bucket/prefix or memory://)")
	region := fs.String("region", "", "AWS region (defaults to AWS_REGION env)")
	retention := fs.Int64("retention", 0, "Default retention window, microseconds")
	maxWorkers := fs.Int("workers", 4, "Maximum concurrent table restores")
	batchSize := fs.Int("batch", 25, "Backing store write batch size")
	shutdownTimeout := fs.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg := &config.Config{
		JobID:           *jobID,
		BackingStoreURI: *backingStoreURI,
		Region:          *region,
		RetentionMicros: *retention,
		WriteBatchSize:  *batchSize,
		MaxWorkers:      *maxWorkers,
		ShutdownTimeout: *shutdownTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	store, err := newBackingStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to construct backing store: %w", err)
	}

	registry := prometheus.NewRegistry()
	gauge := metrics.NewTableSizeGauge(registry)
	m := metrics.NewMetrics()

	if err := seedFixture(ctx, store, cfg.JobID, *operatorID); err != nil {
		return fmt.Errorf("failed to seed fixture log: %w", err)
	}

	tasks := []coordinator.Task{
		{
			TableID: "orders",
			Restore: func(ctx context.Context) (any, error) {
				return kvtime.Restore[string, string](
					ctx, store, gauge, m, cfg.JobID, *operatorID, 0, 1,
					"orders", wire.TableDescriptor{}, wire.JSONCodec[string]{}, wire.JSONCodec[string]{},
				)
			},
		},
		{
			TableID: "sessions",
			Restore: func(ctx context.Context) (any, error) {
				return kvtime.Restore[string, string](
					ctx, store, gauge, m, cfg.JobID, *operatorID, 0, 1,
					"sessions", wire.TableDescriptor{RetentionMicros: cfg.RetentionMicros}, wire.JSONCodec[string]{}, wire.JSONCodec[string]{},
				)
			},
		},
	}

	coord := coordinator.New(cfg.MaxWorkers)
	fmt.Printf("Restoring %d tables for %s/%s\n", len(tasks), cfg.JobID, *operatorID)
	results, err := coord.Run(ctx, tasks)
	if err != nil {
		return fmt.Errorf("restore operation failed: %w", err)
	}

	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("table %s: %w", r.TableID, r.Err)
		}
		facade := r.Facade.(*kvtime.Facade[string, string])
		fmt.Printf("table %-10s restored with %d keys\n", r.TableID, facade.Cache().Len())
	}

	fmt.Println(m.GenerateReport())
	return nil
}

func newBackingStore(ctx context.Context, cfg *config.Config) (backingstore.Store, error) {
	if cfg.IsMemoryBackingStore() {
		return backingstore.NewMemoryStore(), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	rawS3Client := s3.NewFromConfig(awsCfg)
	streamer := s3streamer.NewS3Streamer(rawS3Client)
	return backingstore.NewS3Store(rawS3Client, streamer, cfg.BackingStoreBucket(), cfg.BackingStorePrefix()), nil
}

// seedFixture writes a small operation log and operator manifest so the
// restore path below has something to replay. A real deployment never
// calls this: the backing store is populated by the engine's own
// checkpoint writes.
func seedFixture(ctx context.Context, store backingstore.Store, jobID, operatorID string) error {
	codec := wire.JSONCodec[string]{}
	now := wire.ToMicros(time.Now())

	for _, table := range []string{"orders", "sessions"} {
		key, err := codec.Encode("k1")
		if err != nil {
			return err
		}
		value, err := codec.Encode("v1")
		if err != nil {
			return err
		}
		if err := store.WriteDataTuple(ctx, table, now, key, value); err != nil {
			return err
		}
	}

	return store.WriteOperatorCheckpointMetadata(ctx, wire.OperatorCheckpointMetadata{
		JobID:        jobID,
		OperatorID:   operatorID,
		Epoch:        1,
		StartTime:    now,
		FinishTime:   now,
		MinWatermark: &now,
		HasState:     true,
		Tables:       []string{"orders", "sessions"},
	})
}
