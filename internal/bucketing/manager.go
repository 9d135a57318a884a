package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"event-pipeline/internal/config"
)

type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

type BucketAssignment struct {
	UserBucket  int    `json:"user_bucket"`
	EventBucket int    `json:"event_bucket"`
	DateBucket  string `json:"date_bucket"`
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return newManager(cfg.Bucketing.UserBuckets, cfg.Bucketing.EventBuckets)
}

func newManager(userBuckets, eventBuckets int) *BucketingManager {
	if userBuckets <= 0 {
		userBuckets = 1
	}
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	bm := &BucketingManager{
		userBuckets:  userBuckets,
		eventBuckets: eventBuckets,
	}
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// GetUserBucket returns a stable partition bucket for a user (0 to userBuckets-1).
func (bm *BucketingManager) GetUserBucket(userID string) int {
	return bm.getBucket(userID, bm.userBuckets)
}

// GetEventBucket buckets an arbitrary identifier such as a source IP.
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetDateBucket returns the UTC day of t.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetBucketAssignment(userID, sourceIP string, at time.Time) *BucketAssignment {
	return &BucketAssignment{
		UserBucket:  bm.GetUserBucket(userID),
		EventBucket: bm.GetEventBucket(sourceIP),
		DateBucket:  bm.GetDateBucket(at),
	}
}

func (bm *BucketingManager) GetUserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
