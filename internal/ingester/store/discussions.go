package store

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/patchtrack/patchtrack/internal/ingester/model"
)

const (
	discussionObjectPrefix = "Discussion:Object:"
	discussionIndexPrefix  = "Discussion:Index:"
)

// DiscussionStore persists discussion messages. The record id is derived
// from (patchId, messageId), so the conditional insert doubles as duplicate
// detection: Upsert reports whether this message was seen for the first time,
// and only those accepted inserts may drive the parent patch's counter.
type DiscussionStore struct {
	db redis.UniversalClient
}

func NewDiscussionStore(db redis.UniversalClient) *DiscussionStore {
	return &DiscussionStore{db: db}
}

// Upsert writes the discussion and its three index entries. Re-writing the
// same message refreshes the blob (last-write-wins) without creating a
// duplicate. Returns whether the record was newly created.
func (s *DiscussionStore) Upsert(discussion *model.Discussion) (bool, error) {
	if discussion.Id == "" {
		return false, errors.New("discussion id is empty")
	}
	created := false
	err := WithRetry(func() error {
		ok, err := s.db.SetNX(discussionObjectPrefix+discussion.Id, mustMarshal(discussion), 0).Result()
		if err != nil {
			return err
		}
		created = ok

		pipe := s.db.TxPipeline()
		if !ok {
			pipe.Set(discussionObjectPrefix+discussion.Id, mustMarshal(discussion), 0)
		}
		updateIndexEntries(pipe, discussionIndexPrefix, discussion.Id, nil, discussionIndexList(discussion))
		_, err = pipe.Exec()
		return err
	})
	return created, err
}

func (s *DiscussionStore) Get(id string) (*model.Discussion, error) {
	data, err := s.db.Get(discussionObjectPrefix + id).Bytes()
	if err == redis.Nil {
		return nil, errors.WithStack(&ErrNotFound{Type: "discussion", Value: id})
	}
	if err != nil {
		return nil, err
	}
	discussion := &model.Discussion{}
	if err := json.Unmarshal(data, discussion); err != nil {
		return nil, errors.Wrapf(err, "corrupt discussion record %s", id)
	}
	return discussion, nil
}

// ByPatch returns the discussions of a patch ordered by timestamp ascending.
func (s *DiscussionStore) ByPatch(patchId string, scores *ScoreRange) *DiscussionIterator {
	return s.queryIndex(model.PatchPartitionPrefix+patchId, scores)
}

// ByThread returns all messages of a reply chain, root first.
func (s *DiscussionStore) ByThread(threadId string, scores *ScoreRange) *DiscussionIterator {
	return s.queryIndex(model.ThreadPartitionPrefix+threadId, scores)
}

// ByAuthor returns an author's messages ordered by timestamp ascending.
func (s *DiscussionStore) ByAuthor(authorEmail string, scores *ScoreRange) *DiscussionIterator {
	return s.queryIndex(model.AuthorPartitionPrefix+authorEmail, scores)
}

func (s *DiscussionStore) queryIndex(partition string, scores *ScoreRange) *DiscussionIterator {
	return &DiscussionIterator{
		store:    s,
		indexKey: discussionIndexPrefix + partition,
		scores:   scores.rangeBy(),
		pageSize: defaultIteratorPageSize,
	}
}

func discussionIndexList(discussion *model.Discussion) []model.IndexKey {
	keys := discussion.IndexKeys()
	return []model.IndexKey{keys.ByPatch, keys.ByThread, keys.ByAuthor}
}
