package model

import (
	"time"
)

// PatchStatus is the lifecycle state of a patch as tracked upstream.
// Transitions are not constrained to a fixed graph; any status may follow
// any other.
type PatchStatus string

const (
	StatusNew              PatchStatus = "NEW"
	StatusUnderReview      PatchStatus = "UNDER_REVIEW"
	StatusAccepted         PatchStatus = "ACCEPTED"
	StatusRejected         PatchStatus = "REJECTED"
	StatusSuperseded       PatchStatus = "SUPERSEDED"
	StatusRFC              PatchStatus = "RFC"
	StatusChangesRequested PatchStatus = "CHANGES_REQUESTED"
	StatusAwaitingUpstream PatchStatus = "AWAITING_UPSTREAM"
)

// AllStatuses lists every patch status, in the order reconciliation scans them.
var AllStatuses = []PatchStatus{
	StatusNew,
	StatusUnderReview,
	StatusAccepted,
	StatusRejected,
	StatusSuperseded,
	StatusRFC,
	StatusChangesRequested,
	StatusAwaitingUpstream,
}

func (s PatchStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

type Submitter struct {
	Id    string `json:"submitterId"`
	Name  string `json:"submitterName"`
	Email string `json:"submitterEmail"`
}

type Series struct {
	Id      string `json:"seriesId"`
	Name    string `json:"seriesName"`
	Version int    `json:"seriesVersion"`
}

// Patch is a proposed code change ingested from the upstream tracker.
// DiscussionCount and LastDiscussionAt are maintained by the store as atomic
// side effects of discussion inserts; the values carried here are only
// meaningful on records returned from the store.
type Patch struct {
	Id            string      `json:"id"`
	Name          string      `json:"name"`
	Submitter     Submitter   `json:"submitter"`
	SubmittedAt   time.Time   `json:"submittedAt"`
	LastUpdatedAt time.Time   `json:"lastUpdatedAt"`
	Status        PatchStatus `json:"status"`

	Url     string `json:"url"`
	WebUrl  string `json:"webUrl"`
	MboxUrl string `json:"mboxUrl"`

	MessageId string `json:"messageId"`

	CommitRef *string `json:"commitRef,omitempty"`
	PullUrl   *string `json:"pullUrl,omitempty"`
	Hash      *string `json:"hash,omitempty"`
	Content   string  `json:"content"`

	Series *Series `json:"series,omitempty"`

	// Enrichment fields populated by the analysis collaborator after
	// ingestion; preserved across upserts.
	Summary     *string  `json:"summary,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ReviewScore *int     `json:"reviewScore,omitempty"`

	DiscussionCount  int64      `json:"discussionCount"`
	LastDiscussionAt *time.Time `json:"lastDiscussionAt,omitempty"`
}

// Discussion is a single threaded message referencing a patch. Id is derived
// deterministically from (PatchId, MessageId) so that re-fetching the same
// message converges on the same record.
type Discussion struct {
	Id        string    `json:"id"`
	PatchId   string    `json:"patchId"`
	Timestamp time.Time `json:"timestamp"`

	AuthorName  string `json:"authorName"`
	AuthorEmail string `json:"authorEmail"`

	MessageId string  `json:"messageId"`
	InReplyTo *string `json:"inReplyTo,omitempty"`
	ThreadId  string  `json:"threadId"`

	Subject string `json:"subject"`
	Content string `json:"content"`

	Sentiment   *string `json:"sentiment,omitempty"`
	Summary     *string `json:"summary,omitempty"`
	ReviewScore *int    `json:"reviewScore,omitempty"`
	ReviewType  *string `json:"reviewType,omitempty"`
}

// IndexKey is one derived (partition, sort) pair. Partition selects the index
// shard, Sort orders entries within it. Keys are denormalized from the
// entity's current attributes and recomputed on every upsert.
type IndexKey struct {
	Partition string
	Sort      float64
}

type PatchIndexKeys struct {
	BySubmitter IndexKey
	BySeries    *IndexKey
	ByStatus    IndexKey
}

type DiscussionIndexKeys struct {
	ByPatch  IndexKey
	ByThread IndexKey
	ByAuthor IndexKey
}

const (
	SubmitterPartitionPrefix = "SUBMITTER#"
	SeriesPartitionPrefix    = "SERIES#"
	StatusPartitionPrefix    = "STATUS#"
	PatchPartitionPrefix     = "PATCH#"
	ThreadPartitionPrefix    = "THREAD#"
	AuthorPartitionPrefix    = "AUTHOR#"
)

// IndexKeys computes the patch's three derived index key pairs from its
// current attributes. BySeries is nil for patches with no series association.
func (p *Patch) IndexKeys() PatchIndexKeys {
	keys := PatchIndexKeys{
		BySubmitter: IndexKey{
			Partition: SubmitterPartitionPrefix + p.Submitter.Id,
			Sort:      timeScore(p.SubmittedAt),
		},
		ByStatus: IndexKey{
			Partition: StatusPartitionPrefix + string(p.Status),
			Sort:      timeScore(p.LastUpdatedAt),
		},
	}
	if p.Series != nil {
		keys.BySeries = &IndexKey{
			Partition: SeriesPartitionPrefix + p.Series.Id,
			Sort:      timeScore(p.SubmittedAt),
		}
	}
	return keys
}

func (d *Discussion) IndexKeys() DiscussionIndexKeys {
	score := timeScore(d.Timestamp)
	return DiscussionIndexKeys{
		ByPatch:  IndexKey{Partition: PatchPartitionPrefix + d.PatchId, Sort: score},
		ByThread: IndexKey{Partition: ThreadPartitionPrefix + d.ThreadId, Sort: score},
		ByAuthor: IndexKey{Partition: AuthorPartitionPrefix + d.AuthorEmail, Sort: score},
	}
}

func timeScore(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// TimeScore converts a timestamp to the score used by the derived indexes.
// Exposed so range queries can be expressed in the same units.
func TimeScore(t time.Time) float64 {
	return timeScore(t)
}
