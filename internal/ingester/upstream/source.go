// Package upstream defines the fetch collaborator the ingestion tasks depend
// on, plus the production Patchwork REST binding.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/patchtrack/patchtrack/internal/ingester/model"
)

// PatchPage is one page of upstream patches. HasNext reports whether a
// further page exists.
type PatchPage struct {
	Patches []*model.RawPatch
	HasNext bool
}

// Source is the upstream fetch collaborator. Failures must be classifiable as
// transient or permanent via IsPermanent.
type Source interface {
	// FetchPatchPage retrieves one page of patches, newest first.
	FetchPatchPage(ctx context.Context, page, pageSize int) (*PatchPage, error)
	// FetchDiscussions retrieves the discussion messages for a patch. The
	// since marker is advisory; implementations may return messages older
	// than it.
	FetchDiscussions(ctx context.Context, patchId string, since *time.Time) ([]*model.RawDiscussion, error)
}

// Error wraps an upstream failure with its classification. Client errors
// (4xx, except throttling) are permanent: retrying the same request cannot
// succeed. Everything else is transient.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (err *Error) Error() string {
	if err.StatusCode != 0 {
		return fmt.Sprintf("upstream %s failed with status %d", err.Op, err.StatusCode)
	}
	return fmt.Sprintf("upstream %s failed: %v", err.Op, err.Err)
}

func (err *Error) Unwrap() error {
	return err.Err
}

func (err *Error) Permanent() bool {
	return err.StatusCode >= 400 && err.StatusCode < 500 && err.StatusCode != http.StatusTooManyRequests
}

// IsPermanent reports whether err is a permanent upstream rejection that must
// not be retried.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Permanent()
	}
	return false
}
