package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type deliveryStatus string

const (
	statusPending deliveryStatus = "pending"
	statusSent    deliveryStatus = "sent"
	statusFailed  deliveryStatus = "failed"
)

// deliveryRecord tracks one job's webhook delivery attempts, the Redis
// equivalent of the teacher's webhook_deliveries table row.
type deliveryRecord struct {
	JobID         string         `json:"job_id"`
	URL           string         `json:"url"`
	Status        deliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	LastError     *string        `json:"last_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

const (
	recordKeyPrefix = "webhook:delivery:"
	pendingSetKey   = "webhook:delivery:pending"
	recordTTL       = 7 * 24 * time.Hour
)

func recordKey(jobID string) string { return recordKeyPrefix + jobID }

type recordStore struct {
	rdb redis.UniversalClient
}

func newRecordStore(rdb redis.UniversalClient) *recordStore {
	return &recordStore{rdb: rdb}
}

func (s *recordStore) getOrCreate(ctx context.Context, jobID, url string) (*deliveryRecord, error) {
	existing, err := s.get(ctx, jobID)
	if err == nil {
		return existing, nil
	}
	record := &deliveryRecord{JobID: jobID, URL: url, Status: statusPending, CreatedAt: time.Now()}
	return record, s.save(ctx, record)
}

func (s *recordStore) get(ctx context.Context, jobID string) (*deliveryRecord, error) {
	raw, err := s.rdb.Get(ctx, recordKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	var record deliveryRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode delivery record: %w", err)
	}
	return &record, nil
}

func (s *recordStore) save(ctx context.Context, record *deliveryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode delivery record: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, recordKey(record.JobID), data, recordTTL)
	if record.Status == statusPending {
		pipe.SAdd(ctx, pendingSetKey, record.JobID)
	} else {
		pipe.SRem(ctx, pendingSetKey, record.JobID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("persist delivery record: %w", err)
	}
	return nil
}

// listPending returns up to limit delivery records currently awaiting
// retry.
func (s *recordStore) listPending(ctx context.Context, limit int) ([]*deliveryRecord, error) {
	jobIDs, err := s.rdb.SMembers(ctx, pendingSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending delivery ids: %w", err)
	}
	if len(jobIDs) > limit {
		jobIDs = jobIDs[:limit]
	}

	records := make([]*deliveryRecord, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		record, err := s.get(ctx, jobID)
		if err != nil {
			_ = s.rdb.SRem(ctx, pendingSetKey, jobID).Err()
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
