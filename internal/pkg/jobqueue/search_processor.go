package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const searchIndexKeyPrefix = "search_index:"

// processSearchIndexJob records the entity in a Redis pending-index set. A
// real search engine is not part of this system; an external indexer drains
// these sets on its own schedule.
func (q *Queue) processSearchIndexJob(ctx context.Context, job *Job) error {
	payload, err := SearchIndexJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid search index payload: %w", err)
	}
	if payload.Entity == "" || payload.EntityID == 0 {
		return fmt.Errorf("search index job %s has empty entity ref", job.ID)
	}

	member := fmt.Sprintf("%d:%s", payload.EntityID, payload.Action)
	key := searchIndexKeyPrefix + payload.Entity
	return q.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: member,
	}).Err()
}
