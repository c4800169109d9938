package convert

import (
	"fmt"
	"strconv"
	"time"

	"github.com/patchtrack/patchtrack/internal/common/util"
	"github.com/patchtrack/patchtrack/internal/ingester/model"
)

// MappingError indicates that a raw upstream record is missing a required
// field or is otherwise malformed. It is a permanent, per-record rejection:
// callers log it and skip the record, they must never retry it.
type MappingError struct {
	Entity string
	Field  string
	Reason string
}

func (err *MappingError) Error() string {
	return fmt.Sprintf("cannot map %s record: field %q %s", err.Entity, err.Field, err.Reason)
}

// Date layouts seen in upstream payloads. Patchwork omits the zone suffix;
// such timestamps are UTC.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
}

// MapPatch converts a raw upstream patch into a domain record with derived
// index keys. Pure and deterministic: now is supplied by the caller and
// becomes the record's lastUpdatedAt.
//
// First sightings always map to status NEW with a zero discussion count; the
// store's upsert merge preserves the live values for existing patches.
func MapPatch(raw *model.RawPatch, now time.Time) (*model.Patch, error) {
	if raw.Id <= 0 {
		return nil, &MappingError{Entity: "patch", Field: "id", Reason: "is missing"}
	}
	if raw.Submitter == nil || raw.Submitter.Id <= 0 {
		return nil, &MappingError{Entity: "patch", Field: "submitter", Reason: "is missing"}
	}
	submittedAt, err := parseDate(raw.Date)
	if err != nil {
		return nil, &MappingError{Entity: "patch", Field: "date", Reason: "is malformed"}
	}

	lastUpdated := now.UTC()
	if lastUpdated.Before(submittedAt) {
		lastUpdated = submittedAt
	}

	patch := &model.Patch{
		Id:   strconv.Itoa(raw.Id),
		Name: raw.Name,
		Submitter: model.Submitter{
			Id:    strconv.Itoa(raw.Submitter.Id),
			Name:  raw.Submitter.Name,
			Email: raw.Submitter.Email,
		},
		SubmittedAt:   submittedAt,
		LastUpdatedAt: lastUpdated,
		Status:        model.StatusNew,
		Url:           raw.Url,
		WebUrl:        raw.WebUrl,
		MboxUrl:       raw.Mbox,
		MessageId:     raw.MessageId,
		CommitRef:     optional(raw.CommitRef),
		PullUrl:       optional(raw.PullUrl),
		Hash:          optional(raw.Hash),
		Content:       raw.Content,
	}

	if len(raw.Series) > 0 && raw.Series[0].Id > 0 {
		first := raw.Series[0]
		patch.Series = &model.Series{
			Id:      strconv.Itoa(first.Id),
			Name:    first.Name,
			Version: first.Version,
		}
	}
	return patch, nil
}

// MapDiscussion converts a raw upstream message into a domain record bound to
// patchId. The record id is derived from (patchId, messageId) so repeated
// fetches of the same message map to the same record. A message with no
// reply-chain reference is its own thread root: threadId defaults to the
// message's own id.
func MapDiscussion(raw *model.RawDiscussion, patchId string) (*model.Discussion, error) {
	if patchId == "" {
		return nil, &MappingError{Entity: "discussion", Field: "patchId", Reason: "is missing"}
	}
	if raw.MessageId == "" {
		return nil, &MappingError{Entity: "discussion", Field: "msgid", Reason: "is missing"}
	}
	if raw.Submitter == nil {
		return nil, &MappingError{Entity: "discussion", Field: "submitter", Reason: "is missing"}
	}
	timestamp, err := parseDate(raw.Date)
	if err != nil {
		return nil, &MappingError{Entity: "discussion", Field: "date", Reason: "is malformed"}
	}

	threadId := raw.ThreadId
	if threadId == "" {
		threadId = raw.InReplyTo
	}
	if threadId == "" {
		threadId = raw.MessageId
	}

	return &model.Discussion{
		Id:          util.DeterministicId(patchId, raw.MessageId),
		PatchId:     patchId,
		Timestamp:   timestamp,
		AuthorName:  raw.Submitter.Name,
		AuthorEmail: raw.Submitter.Email,
		MessageId:   raw.MessageId,
		InReplyTo:   optional(raw.InReplyTo),
		ThreadId:    threadId,
		Subject:     raw.Subject,
		Content:     raw.Content,
	}, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// optional normalises an upstream string into an explicit absent
// representation: empty strings become nil, never empty pointers.
func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
