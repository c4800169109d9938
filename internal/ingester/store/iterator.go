package store

import (
	"encoding/json"
	"strconv"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/patchtrack/patchtrack/internal/ingester/model"
)

const defaultIteratorPageSize = 100

// ScoreRange bounds an index query by sort-key score (inclusive). A nil range
// or nil bound is unbounded on that side.
type ScoreRange struct {
	Min *float64
	Max *float64
}

func (r *ScoreRange) rangeBy() redis.ZRangeBy {
	by := redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if r == nil {
		return by
	}
	if r.Min != nil {
		by.Min = strconv.FormatFloat(*r.Min, 'f', -1, 64)
	}
	if r.Max != nil {
		by.Max = strconv.FormatFloat(*r.Max, 'f', -1, 64)
	}
	return by
}

// Between returns a score range covering [min, max].
func Between(min, max float64) *ScoreRange {
	return &ScoreRange{Min: &min, Max: &max}
}

// PatchIterator is a lazy, restartable sequence over one patch index
// partition, ordered by sort key ascending (ties broken by id). The
// underlying store is paged transparently.
type PatchIterator struct {
	store    *PatchStore
	indexKey string
	scores   redis.ZRangeBy
	pageSize int64

	offset int64
	buffer []*model.Patch
	done   bool
}

// Next returns the next patch, or ok=false once the sequence is exhausted.
// A page may yield nothing when every entry on it is an orphan, so keep
// filling until a record turns up or the index is exhausted.
func (it *PatchIterator) Next() (*model.Patch, bool, error) {
	for len(it.buffer) == 0 && !it.done {
		if err := it.fill(); err != nil {
			return nil, false, err
		}
	}
	if len(it.buffer) == 0 {
		return nil, false, nil
	}
	patch := it.buffer[0]
	it.buffer = it.buffer[1:]
	return patch, true, nil
}

// Reset restarts the sequence from the beginning.
func (it *PatchIterator) Reset() {
	it.offset = 0
	it.buffer = nil
	it.done = false
}

func (it *PatchIterator) fill() error {
	scores := it.scores
	scores.Offset = it.offset
	scores.Count = it.pageSize
	ids, err := it.store.db.ZRangeByScore(it.indexKey, scores).Result()
	if err != nil {
		return err
	}
	it.offset += int64(len(ids))
	if int64(len(ids)) < it.pageSize {
		it.done = true
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := it.store.db.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(patchObjectPrefix + id)
	}
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return err
	}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			// Index entry outlived its record; skip.
			continue
		}
		if err != nil {
			return err
		}
		patch := &model.Patch{}
		if err := json.Unmarshal(data, patch); err != nil {
			return errors.Wrapf(err, "corrupt patch record %s", ids[i])
		}
		if _, err := it.store.overlayCounters(patch); err != nil {
			return err
		}
		it.buffer = append(it.buffer, patch)
	}
	return nil
}

// DiscussionIterator is the discussion-side counterpart of PatchIterator.
type DiscussionIterator struct {
	store    *DiscussionStore
	indexKey string
	scores   redis.ZRangeBy
	pageSize int64

	offset int64
	buffer []*model.Discussion
	done   bool
}

func (it *DiscussionIterator) Next() (*model.Discussion, bool, error) {
	for len(it.buffer) == 0 && !it.done {
		if err := it.fill(); err != nil {
			return nil, false, err
		}
	}
	if len(it.buffer) == 0 {
		return nil, false, nil
	}
	discussion := it.buffer[0]
	it.buffer = it.buffer[1:]
	return discussion, true, nil
}

func (it *DiscussionIterator) Reset() {
	it.offset = 0
	it.buffer = nil
	it.done = false
}

func (it *DiscussionIterator) fill() error {
	scores := it.scores
	scores.Offset = it.offset
	scores.Count = it.pageSize
	ids, err := it.store.db.ZRangeByScore(it.indexKey, scores).Result()
	if err != nil {
		return err
	}
	it.offset += int64(len(ids))
	if int64(len(ids)) < it.pageSize {
		it.done = true
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := it.store.db.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(discussionObjectPrefix + id)
	}
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return err
	}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}
		discussion := &model.Discussion{}
		if err := json.Unmarshal(data, discussion); err != nil {
			return errors.Wrapf(err, "corrupt discussion record %s", ids[i])
		}
		it.buffer = append(it.buffer, discussion)
	}
	return nil
}
