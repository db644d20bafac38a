package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/meridian-fsm/meridian/internal/orders"
	"github.com/meridian-fsm/meridian/internal/shared"
)

// HTTPSource fetches order snapshots from the external tracking system's
// JSON endpoint. The response is a list of objects; only the known mutable
// subset is decoded, the full object is kept as the raw audit payload.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource constructs a source. baseURL points at the upstream root.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{baseURL: baseURL, client: client}
}

type wireSnapshot struct {
	SONum                string                  `json:"so_num"`
	Status               orders.LifecycleStatus  `json:"status"`
	FieldAcceptance      orders.AcceptanceStatus `json:"field_acceptance"`
	RegionalAcceptance   orders.AcceptanceStatus `json:"regional_acceptance"`
	HeadOfficeAcceptance orders.AcceptanceStatus `json:"head_office_acceptance"`
	ReceivedAt           time.Time               `json:"received_at"`
	CompletedAt          *time.Time              `json:"completed_at"`
	Billable             bool                    `json:"billable"`
}

// FetchRegion returns the region's current order snapshots.
func (s *HTTPSource) FetchRegion(ctx context.Context, regionKey string) ([]OrderSnapshot, error) {
	endpoint := fmt.Sprintf("%s/regions/%s/orders", s.baseURL, url.PathEscape(regionKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", shared.ErrTransientBackend, regionKey, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: status %d", shared.ErrTransientBackend, regionKey, resp.StatusCode)
	}

	var raws []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", shared.ErrUpstreamSnapshot, regionKey, err)
	}

	snapshots := make([]OrderSnapshot, 0, len(raws))
	for _, raw := range raws {
		var w wireSnapshot
		// A single undecodable element still yields a snapshot so the
		// sweep can count it as failed instead of dropping it silently.
		_ = json.Unmarshal(raw, &w)
		snapshots = append(snapshots, OrderSnapshot{
			SONum:                w.SONum,
			LifecycleStatus:      w.Status,
			FieldAcceptance:      w.FieldAcceptance,
			RegionalAcceptance:   w.RegionalAcceptance,
			HeadOfficeAcceptance: w.HeadOfficeAcceptance,
			ReceivedAt:           w.ReceivedAt,
			CompletedAt:          w.CompletedAt,
			Billable:             w.Billable,
			Raw:                  append([]byte(nil), raw...),
		})
	}
	return snapshots, nil
}
