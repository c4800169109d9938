package store

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/patchtrack/patchtrack/internal/ingester/model"
)

const (
	patchObjectPrefix         = "Patch:Object:"
	patchCountPrefix          = "Patch:DiscussionCount:"
	patchLastDiscussionPrefix = "Patch:LastDiscussionAt:"
	patchIndexPrefix          = "Patch:Index:"
)

// PatchStore persists patches. Each patch is a JSON blob under
// Patch:Object:<id> plus three sorted-set index entries derived from its
// attributes. The discussion counter and last-discussion timestamp live in
// separate keys so they can be updated atomically without rewriting the blob.
type PatchStore struct {
	db redis.UniversalClient
}

func NewPatchStore(db redis.UniversalClient) *PatchStore {
	return &PatchStore{db: db}
}

// Upsert writes the patch, converging to the same stored state however many
// times the same logical record is written. The first sighting of an id
// creates the record as mapped; later sightings merge, preserving lifecycle
// status, enrichment fields and counters, and never moving lastUpdatedAt
// backwards. Returns whether the patch was newly created.
func (s *PatchStore) Upsert(patch *model.Patch) (bool, error) {
	if patch.Id == "" {
		return false, errors.New("patch id is empty")
	}
	created := false
	err := WithRetry(func() error {
		existing, err := s.getObject(patch.Id)
		if err != nil && !IsNotFound(err) {
			return err
		}

		if existing == nil {
			ok, err := s.db.SetNX(patchObjectPrefix+patch.Id, mustMarshal(patch), 0).Result()
			if err != nil {
				return err
			}
			if ok {
				created = true
				return s.writeIndexEntries(nil, patch)
			}
			// Lost the race to a concurrent first sighting; fall through to
			// the merge path.
			existing, err = s.getObject(patch.Id)
			if err != nil {
				return err
			}
		}

		merged := mergePatch(existing, patch)
		pipe := s.db.TxPipeline()
		pipe.Set(patchObjectPrefix+merged.Id, mustMarshal(merged), 0)
		updateIndexEntries(pipe, patchIndexPrefix, merged.Id, patchIndexList(existing), patchIndexList(merged))
		_, err = pipe.Exec()
		return err
	})
	return created, err
}

// mergePatch folds a re-sighting into the stored record. Identity and
// lifecycle fields owned by other writers (status, enrichment) survive;
// upstream attributes are refreshed.
func mergePatch(existing, incoming *model.Patch) *model.Patch {
	merged := *incoming
	merged.Id = existing.Id
	merged.SubmittedAt = existing.SubmittedAt
	merged.Status = existing.Status
	merged.Summary = existing.Summary
	merged.Tags = existing.Tags
	merged.ReviewScore = existing.ReviewScore
	if merged.LastUpdatedAt.Before(existing.LastUpdatedAt) {
		merged.LastUpdatedAt = existing.LastUpdatedAt
	}
	return &merged
}

func (s *PatchStore) Get(id string) (*model.Patch, error) {
	patch, err := s.getObject(id)
	if err != nil {
		return nil, err
	}
	return s.overlayCounters(patch)
}

// UpdateStatus moves the patch to a new lifecycle status, advancing
// lastUpdatedAt and relocating its by-status index entry.
func (s *PatchStore) UpdateStatus(id string, status model.PatchStatus, now time.Time) error {
	if !status.Valid() {
		return errors.Errorf("unknown patch status %q", status)
	}
	return WithRetry(func() error {
		patch, err := s.getObject(id)
		if err != nil {
			return err
		}
		before := *patch
		patch.Status = status
		if now.After(patch.LastUpdatedAt) {
			patch.LastUpdatedAt = now
		}
		pipe := s.db.TxPipeline()
		pipe.Set(patchObjectPrefix+id, mustMarshal(patch), 0)
		updateIndexEntries(pipe, patchIndexPrefix, id, patchIndexList(&before), patchIndexList(patch))
		_, err = pipe.Exec()
		return err
	})
}

// RecordDiscussion accounts for one newly inserted discussion on the patch.
// The counter uses an atomic increment so concurrent discussion fetches for
// the same patch never lose an update. Only accepted conditional inserts may
// be recorded here, one call per distinct message.
func (s *PatchStore) RecordDiscussion(id string, at time.Time) error {
	return WithRetry(func() error {
		pipe := s.db.TxPipeline()
		pipe.Incr(patchCountPrefix + id)
		_, err := pipe.Exec()
		if err != nil {
			return err
		}
		return s.advanceLastDiscussion(id, at)
	})
}

// advanceLastDiscussion moves the last-discussion marker forward only. The
// read-compare is not transactional; a concurrent writer can only replace the
// value with a later timestamp, which is harmless for the since marker.
func (s *PatchStore) advanceLastDiscussion(id string, at time.Time) error {
	key := patchLastDiscussionPrefix + id
	current, err := s.db.Get(key).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if err == nil {
		existing, parseErr := time.Parse(time.RFC3339Nano, current)
		if parseErr == nil && !at.After(existing) {
			return nil
		}
	}
	return s.db.Set(key, at.UTC().Format(time.RFC3339Nano), 0).Err()
}

// BySubmitter returns patches submitted by the given submitter, ordered by
// submission date ascending.
func (s *PatchStore) BySubmitter(submitterId string, scores *ScoreRange) *PatchIterator {
	return s.queryIndex(model.SubmitterPartitionPrefix+submitterId, scores)
}

// BySeries returns the patches of a series ordered by submission date
// ascending.
func (s *PatchStore) BySeries(seriesId string, scores *ScoreRange) *PatchIterator {
	return s.queryIndex(model.SeriesPartitionPrefix+seriesId, scores)
}

// ByStatus returns patches in the given status ordered by last-update date
// ascending.
func (s *PatchStore) ByStatus(status model.PatchStatus, scores *ScoreRange) *PatchIterator {
	return s.queryIndex(model.StatusPartitionPrefix+string(status), scores)
}

func (s *PatchStore) queryIndex(partition string, scores *ScoreRange) *PatchIterator {
	return &PatchIterator{
		store:    s,
		indexKey: patchIndexPrefix + partition,
		scores:   scores.rangeBy(),
		pageSize: defaultIteratorPageSize,
	}
}

func (s *PatchStore) getObject(id string) (*model.Patch, error) {
	data, err := s.db.Get(patchObjectPrefix + id).Bytes()
	if err == redis.Nil {
		return nil, errors.WithStack(&ErrNotFound{Type: "patch", Value: id})
	}
	if err != nil {
		return nil, err
	}
	patch := &model.Patch{}
	if err := json.Unmarshal(data, patch); err != nil {
		return nil, errors.Wrapf(err, "corrupt patch record %s", id)
	}
	return patch, nil
}

// overlayCounters replaces the blob's tracking fields with the live counter
// keys. lastUpdatedAt also reflects discussion activity so that every
// mutation, counter increments included, advances it.
func (s *PatchStore) overlayCounters(patch *model.Patch) (*model.Patch, error) {
	pipe := s.db.Pipeline()
	countCmd := pipe.Get(patchCountPrefix + patch.Id)
	lastCmd := pipe.Get(patchLastDiscussionPrefix + patch.Id)
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, err
	}

	if raw, err := countCmd.Result(); err == nil {
		if count, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
			patch.DiscussionCount = count
		}
	}
	if raw, err := lastCmd.Result(); err == nil {
		if at, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
			patch.LastDiscussionAt = &at
			if at.After(patch.LastUpdatedAt) {
				patch.LastUpdatedAt = at
			}
		}
	}
	return patch, nil
}

func patchIndexList(patch *model.Patch) []model.IndexKey {
	if patch == nil {
		return nil
	}
	keys := patch.IndexKeys()
	list := []model.IndexKey{keys.BySubmitter, keys.ByStatus}
	if keys.BySeries != nil {
		list = append(list, *keys.BySeries)
	}
	return list
}

// updateIndexEntries recomputes the entity's index entries in-pipeline:
// entries whose partition disappeared are removed, current ones are written.
// The entries are derived fields, never hand-edited, so blind rewrites are
// safe.
func updateIndexEntries(pipe redis.Pipeliner, prefix, member string, before, after []model.IndexKey) {
	current := make(map[string]bool, len(after))
	for _, key := range after {
		current[key.Partition] = true
	}
	for _, key := range before {
		if !current[key.Partition] {
			pipe.ZRem(prefix+key.Partition, member)
		}
	}
	for _, key := range after {
		pipe.ZAdd(prefix+key.Partition, redis.Z{Score: key.Sort, Member: member})
	}
}

func (s *PatchStore) writeIndexEntries(before, after *model.Patch) error {
	pipe := s.db.TxPipeline()
	updateIndexEntries(pipe, patchIndexPrefix, after.Id, patchIndexList(before), patchIndexList(after))
	_, err := pipe.Exec()
	return err
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Domain records contain no unmarshalable types.
		panic(err)
	}
	return data
}
