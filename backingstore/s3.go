package backingstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	json "github.com/goccy/go-json"
	"github.com/gurre/s3streamer"

	"github.com/gurre/arroyo-checkpoint/wire"
)

// S3Client is the subset of the AWS SDK's S3 client this store needs,
// narrowed for testability.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ S3Client = (*s3.Client)(nil)

// S3Store is the production backing store: each table's operation log is a
// sequence of small append objects under a per-table prefix (S3 has no
// native append), and manifests are single JSON objects keyed by job,
// operator, and epoch.
type S3Store struct {
	client   S3Client
	streamer s3streamer.Streamer
	bucket   string
	prefix   string

	mu  chan struct{} // 1-buffered mutex; see nextSeq
	seq map[string]int64
}

// NewS3Store constructs an S3Store rooted at bucket/prefix. streamer reads
// back each log segment line-by-line.
func NewS3Store(client S3Client, streamer s3streamer.Streamer, bucket, prefix string) *S3Store {
	return &S3Store{
		client:   client,
		streamer: streamer,
		bucket:   bucket,
		prefix:   strings.TrimSuffix(prefix, "/"),
		mu:       make(chan struct{}, 1),
		seq:      make(map[string]int64),
	}
}

func (s *S3Store) lock()   { s.mu <- struct{}{} }
func (s *S3Store) unlock() { <-s.mu }

func (s *S3Store) nextSeq(table string) int64 {
	s.lock()
	defer s.unlock()
	n := s.seq[table]
	s.seq[table] = n + 1
	return n
}

func (s *S3Store) logPrefix(table string) string {
	return fmt.Sprintf("%s/tables/%s/log/", s.prefix, table)
}

func (s *S3Store) logSegmentKey(table string, seq int64) string {
	return fmt.Sprintf("%s%020d.jsonl", s.logPrefix(table), seq)
}

func (s *S3Store) operatorMetadataKey(jobID, operatorID string, epoch uint32) string {
	return fmt.Sprintf("%s/checkpoints/%s/%s/%d.json", s.prefix, jobID, operatorID, epoch)
}

func (s *S3Store) checkpointMetadataKey(jobID string, epoch uint32) string {
	return fmt.Sprintf("%s/checkpoints/%s/%d/manifest.json", s.prefix, jobID, epoch)
}

// isThrottled reports whether err is a retryable S3 throttling response.
// SlowDown, RequestTimeout, InternalError, and ServiceUnavailable all
// indicate transient capacity pressure rather than a permanent failure.
func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
		return true
	default:
		return false
	}
}

func backoffWait(ctx context.Context, attempt int) bool {
	base := 100 * time.Millisecond
	maxDelay := 30 * time.Second
	delay := base * time.Duration(1<<uint(min(attempt, 16)))
	if delay > maxDelay {
		delay = maxDelay
	}
	delay += time.Duration(rand.Int64N(int64(delay) + 1))

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

const maxPutRetries = 5

func (s *S3Store) putObject(ctx context.Context, key string, body []byte, contentType string) error {
	attempt := 0
	for {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      &s.bucket,
			Key:         &key,
			Body:        bytes.NewReader(body),
			ContentType: &contentType,
		})
		if err == nil {
			return nil
		}
		if isThrottled(err) {
			// Throttling is expected to clear; retry indefinitely until
			// the context is cancelled.
			if !backoffWait(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}
		if attempt < maxPutRetries {
			if !backoffWait(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}
		return fmt.Errorf("put %s after %d retries: %w", key, maxPutRetries, err)
	}
}

func (s *S3Store) appendLogEntry(ctx context.Context, table string, tuple wire.DataTuple) error {
	line, err := json.Marshal(tuple)
	if err != nil {
		return fmt.Errorf("encode data tuple: %w", err)
	}
	line = append(line, '\n')
	key := s.logSegmentKey(table, s.nextSeq(table))
	return s.putObject(ctx, key, line, "application/x-ndjson")
}

func (s *S3Store) WriteDataTuple(ctx context.Context, table string, timestamp wire.Micros, key, value []byte) error {
	return s.appendLogEntry(ctx, table, wire.DataTuple{
		Operation: wire.OpInsert, Key: key, Timestamp: timestamp, Value: value,
	})
}

func (s *S3Store) DeleteKey(ctx context.Context, table string, key []byte) error {
	return s.appendLogEntry(ctx, table, wire.DataTuple{Operation: wire.OpDeleteKey, Key: key})
}

func (s *S3Store) DeleteDataValue(ctx context.Context, table string, timestamp wire.Micros, key, value []byte) error {
	return s.appendLogEntry(ctx, table, wire.DataTuple{
		Operation: wire.OpDeleteValue, Key: key, Timestamp: timestamp, Value: value,
	})
}

func (s *S3Store) DeleteTimeRange(ctx context.Context, table string, key []byte, start, end wire.Micros) error {
	return s.appendLogEntry(ctx, table, wire.DataTuple{
		Operation: wire.OpDeleteTimeRange, Key: key, Start: start, End: end,
	})
}

// listLogSegments returns every segment key under table's log prefix, in
// ascending order. Zero-padded sequence numbers keep lexicographic S3
// listing order equal to write order.
func (s *S3Store) listLogSegments(ctx context.Context, table string) ([]string, error) {
	prefix := s.logPrefix(table)
	var keys []string
	var continuationToken *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("list log segments for %s: %w", table, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) GetDataTuples(ctx context.Context, table string) ([]wire.DataTuple, error) {
	segments, err := s.listLogSegments(ctx, table)
	if err != nil {
		return nil, err
	}

	var tuples []wire.DataTuple
	for _, key := range segments {
		streamErr := s.streamer.Stream(ctx, s.bucket, key, 0, func(line []byte, _ int64) error {
			if len(bytes.TrimSpace(line)) == 0 {
				return nil
			}
			var tuple wire.DataTuple
			if err := json.Unmarshal(line, &tuple); err != nil {
				return fmt.Errorf("decode data tuple from %s: %w", key, err)
			}
			tuples = append(tuples, tuple)
			return nil
		})
		if streamErr != nil {
			return nil, fmt.Errorf("stream log segment %s: %w", key, streamErr)
		}
	}
	return tuples, nil
}

func (s *S3Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		var notFound *s3types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if resp.Body == nil {
		return false, fmt.Errorf("get %s: empty body", key)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) LoadOperatorMetadata(ctx context.Context, jobID, operatorID string, epoch uint32) (wire.OperatorCheckpointMetadata, bool, error) {
	var m wire.OperatorCheckpointMetadata
	ok, err := s.getJSON(ctx, s.operatorMetadataKey(jobID, operatorID, epoch), &m)
	return m, ok, err
}

func (s *S3Store) WriteOperatorCheckpointMetadata(ctx context.Context, m wire.OperatorCheckpointMetadata) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode operator checkpoint metadata: %w", err)
	}
	return s.putObject(ctx, s.operatorMetadataKey(m.JobID, m.OperatorID, m.Epoch), body, "application/json")
}

func (s *S3Store) WriteCheckpointMetadata(ctx context.Context, m wire.CheckpointMetadata) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode checkpoint metadata: %w", err)
	}
	return s.putObject(ctx, s.checkpointMetadataKey(m.JobID, m.Epoch), body, "application/json")
}

var _ Store = (*S3Store)(nil)
