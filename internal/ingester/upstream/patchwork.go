package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/patchtrack/patchtrack/internal/ingester/model"
)

const defaultRequestTimeout = 30 * time.Second

// PatchworkClient fetches patches and their comment threads from a Patchwork
// instance's REST API.
type PatchworkClient struct {
	baseUrl string
	project string
	client  *http.Client
}

func NewPatchworkClient(baseUrl, project string, timeout time.Duration) *PatchworkClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &PatchworkClient{
		baseUrl: baseUrl,
		project: project,
		client:  &http.Client{Timeout: timeout},
	}
}

type patchPageEnvelope struct {
	Count   int               `json:"count"`
	Results []*model.RawPatch `json:"results"`
}

func (c *PatchworkClient) FetchPatchPage(ctx context.Context, page, pageSize int) (*PatchPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(pageSize))
	query.Set("order", "-date")

	endpoint := fmt.Sprintf("%s/projects/%s/patches/?%s", c.baseUrl, c.project, query.Encode())
	envelope := &patchPageEnvelope{}
	if err := c.getJson(ctx, "patch page", endpoint, envelope); err != nil {
		return nil, err
	}

	log.WithField("page", page).Debugf("Fetched %d of %d patches from Patchwork", len(envelope.Results), envelope.Count)
	return &PatchPage{
		Patches: envelope.Results,
		HasNext: page*pageSize < envelope.Count,
	}, nil
}

func (c *PatchworkClient) FetchDiscussions(ctx context.Context, patchId string, since *time.Time) ([]*model.RawDiscussion, error) {
	query := url.Values{}
	if since != nil {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	endpoint := fmt.Sprintf("%s/patches/%s/comments/", c.baseUrl, url.PathEscape(patchId))
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var discussions []*model.RawDiscussion
	if err := c.getJson(ctx, "discussions", endpoint, &discussions); err != nil {
		return nil, err
	}
	return discussions, nil
}

func (c *PatchworkClient) getJson(ctx context.Context, op, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.WithStack(&Error{Op: op, Err: err})
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.WithStack(&Error{Op: op, Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.WithStack(&Error{Op: op, StatusCode: resp.StatusCode})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WithStack(&Error{Op: op, Err: errors.Wrap(err, "decoding response")})
	}
	return nil
}
