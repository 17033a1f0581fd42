package backingstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gurre/arroyo-checkpoint/wire"
)

// fakeS3Client is an in-memory S3Client.
type fakeS3Client struct {
	objects map[string][]byte
}

func newFakeS3Client() *fakeS3Client {
	return &fakeS3Client{objects: make(map[string][]byte)}
}

func (f *fakeS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3Client) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if params.Prefix != nil && !strings.HasPrefix(k, *params.Prefix) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var contents []types.Object
	for _, k := range keys {
		key := k
		contents = append(contents, types.Object{Key: &key})
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

var _ S3Client = (*fakeS3Client)(nil)

// fakeStreamer replays each object's bytes line-by-line.
type fakeStreamer struct {
	client *fakeS3Client
}

func (f *fakeStreamer) Stream(_ context.Context, _, key string, _ int64, fn func([]byte, int64) error) error {
	data, ok := f.client.objects[key]
	if !ok {
		return fmt.Errorf("no such object: %s", key)
	}
	var offset int64
	for _, line := range bytes.Split(data, []byte("\n")) {
		if err := fn(line, offset); err != nil {
			return err
		}
		offset += int64(len(line)) + 1
	}
	return nil
}

func newTestS3Store() (*S3Store, *fakeS3Client) {
	client := newFakeS3Client()
	store := NewS3Store(client, &fakeStreamer{client: client}, "test-bucket", "ckpt")
	return store, client
}

func TestLogSegmentKeySortsInWriteOrder(t *testing.T) {
	store, _ := newTestS3Store()
	var keys []string
	for i := 0; i < 12; i++ {
		keys = append(keys, store.logSegmentKey("orders", int64(i)))
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for i := range keys {
		if keys[i] != sorted[i] {
			t.Fatalf("log segment keys are not in lexicographic write order: %v", keys)
		}
	}
}

func TestWriteDataTupleThenGetDataTuples(t *testing.T) {
	store, _ := newTestS3Store()
	ctx := context.Background()

	if err := store.WriteDataTuple(ctx, "orders", wire.Micros(1), []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := store.WriteDataTuple(ctx, "orders", wire.Micros(2), []byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("write 2: %v", err)
	}
	if err := store.DeleteKey(ctx, "orders", []byte("k1")); err != nil {
		t.Fatalf("delete key: %v", err)
	}

	tuples, err := store.GetDataTuples(ctx, "orders")
	if err != nil {
		t.Fatalf("get data tuples: %v", err)
	}
	if len(tuples) != 3 {
		t.Fatalf("expected 3 tuples, got %d", len(tuples))
	}
	if tuples[0].Operation != wire.OpInsert || string(tuples[0].Key) != "k1" {
		t.Errorf("unexpected first tuple: %+v", tuples[0])
	}
	if tuples[2].Operation != wire.OpDeleteKey || string(tuples[2].Key) != "k1" {
		t.Errorf("unexpected third tuple: %+v", tuples[2])
	}
}

func TestGetDataTuplesEmptyTableReturnsNoTuples(t *testing.T) {
	store, _ := newTestS3Store()
	tuples, err := store.GetDataTuples(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tuples) != 0 {
		t.Fatalf("expected no tuples, got %d", len(tuples))
	}
}

func TestOperatorMetadataRoundTrip(t *testing.T) {
	store, _ := newTestS3Store()
	ctx := context.Background()

	watermark := wire.Micros(500)
	m := wire.OperatorCheckpointMetadata{
		JobID:        "job-1",
		OperatorID:   "op-a",
		Epoch:        3,
		StartTime:    wire.Micros(100),
		FinishTime:   wire.Micros(200),
		MinWatermark: &watermark,
		HasState:     true,
		Tables:       []string{"orders"},
	}
	if err := store.WriteOperatorCheckpointMetadata(ctx, m); err != nil {
		t.Fatalf("write operator metadata: %v", err)
	}

	got, ok, err := store.LoadOperatorMetadata(ctx, "job-1", "op-a", 3)
	if err != nil {
		t.Fatalf("load operator metadata: %v", err)
	}
	if !ok {
		t.Fatal("expected operator metadata to be found")
	}
	if got.OperatorID != "op-a" || got.Epoch != 3 || *got.MinWatermark != 500 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLoadOperatorMetadataMissingReturnsNotOK(t *testing.T) {
	store, _ := newTestS3Store()
	_, ok, err := store.LoadOperatorMetadata(context.Background(), "job-1", "missing-op", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a checkpoint that was never written")
	}
}

func TestWriteCheckpointMetadata(t *testing.T) {
	store, client := newTestS3Store()
	ctx := context.Background()

	m := wire.CheckpointMetadata{
		JobID:       "job-1",
		Epoch:       7,
		MinEpoch:    1,
		OperatorIDs: []string{"op-a", "op-b"},
	}
	if err := store.WriteCheckpointMetadata(ctx, m); err != nil {
		t.Fatalf("write checkpoint metadata: %v", err)
	}

	key := store.checkpointMetadataKey("job-1", 7)
	if _, ok := client.objects[key]; !ok {
		t.Fatalf("expected manifest object at %s", key)
	}
}

func TestIsThrottledIgnoresNoSuchKey(t *testing.T) {
	err := &types.NoSuchKey{}
	if isThrottled(err) {
		t.Error("NoSuchKey must not be treated as throttling")
	}
}
