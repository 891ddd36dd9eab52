package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/fetcher"
	"github.com/sells-group/saferoute/internal/model"
)

// DefaultPoliceAPIURL is the public data.police.uk API root.
const DefaultPoliceAPIURL = "https://data.police.uk/api"

// DefaultMaxSplitDepth bounds how often an oversized area is quartered.
const DefaultMaxSplitDepth = 4

// apiCrime is one element of the crimes-street response.
type apiCrime struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
	Month    string `json:"month"`
	Location *struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
		Street    *struct {
			Name string `json:"name"`
		} `json:"street"`
	} `json:"location"`
	OutcomeStatus *struct {
		Category string `json:"category"`
	} `json:"outcome_status"`
	PersistentID string `json:"persistent_id"`
}

// APIClient pulls street-level crimes from the police.uk API.
type APIClient struct {
	fetch    fetcher.Fetcher
	baseURL  string
	maxDepth int
	forceID  string
}

// NewPoliceFetcher returns an HTTP fetcher that hands 503 answers back to the
// caller; the API uses them to signal an area with too many crimes.
func NewPoliceFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		PassThrough: []int{http.StatusServiceUnavailable},
	})
}

// NewAPIClient creates a client. Empty baseURL and zero maxDepth take their
// defaults.
func NewAPIClient(f fetcher.Fetcher, baseURL string, maxDepth int, forceID string) *APIClient {
	if baseURL == "" {
		baseURL = DefaultPoliceAPIURL
	}
	if maxDepth == 0 {
		maxDepth = DefaultMaxSplitDepth
	}
	return &APIClient{fetch: f, baseURL: strings.TrimRight(baseURL, "/"), maxDepth: maxDepth, forceID: forceID}
}

// errTooMany reports that the API refused an area holding more than 10,000
// crimes.
var errTooMany = eris.New("ingest: too many crimes in area")

// CrimesStreet fetches one month of crimes inside area. A 404 means the month
// has not been published and yields no incidents.
func (c *APIClient) CrimesStreet(ctx context.Context, area model.BBox, month time.Time) ([]model.Incident, error) {
	q := url.Values{}
	q.Set("poly", polyParam(area))
	q.Set("date", month.UTC().Format("2006-01"))
	rawURL := c.baseURL + "/crimes-street/all-crime?" + q.Encode()

	resp, err := c.fetch.Get(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: crimes-street")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return nil, errTooMany
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, eris.Errorf("ingest: crimes-street returned %d", resp.StatusCode)
	}

	crimes, err := fetcher.CollectJSONArray[apiCrime](ctx, resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: decode crimes-street")
	}

	out := make([]model.Incident, 0, len(crimes))
	for _, cr := range crimes {
		inc, ok := c.normalize(cr)
		if ok {
			out = append(out, inc)
		}
	}
	return out, nil
}

// CrimesInArea fetches a month of crimes, quartering the area whenever the
// API reports it as too large. Quadrants past the split depth are dropped
// with a warning.
func (c *APIClient) CrimesInArea(ctx context.Context, area model.BBox, month time.Time) ([]model.Incident, error) {
	return c.crimesInArea(ctx, area, month, 0)
}

func (c *APIClient) crimesInArea(ctx context.Context, area model.BBox, month time.Time, depth int) ([]model.Incident, error) {
	if depth >= c.maxDepth {
		zap.L().Warn("max split depth reached, some crimes may be missing",
			zap.String("component", "ingest.api"),
			zap.Int("depth", depth),
			zap.Any("area", area),
		)
		return nil, nil
	}

	incidents, err := c.CrimesStreet(ctx, area, month)
	if !eris.Is(err, errTooMany) {
		return incidents, err
	}

	zap.L().Info("splitting area", zap.String("component", "ingest.api"), zap.Int("depth", depth+1))
	var all []model.Incident
	for _, q := range Quadrants(area) {
		part, err := c.crimesInArea(ctx, q, month, depth+1)
		if err != nil {
			return nil, err
		}
		all = append(all, part...)
	}
	return all, nil
}

func (c *APIClient) normalize(cr apiCrime) (model.Incident, bool) {
	if cr.Location == nil {
		return model.Incident{}, false
	}
	lat, err1 := strconv.ParseFloat(cr.Location.Latitude, 64)
	lng, err2 := strconv.ParseFloat(cr.Location.Longitude, 64)
	if err1 != nil || err2 != nil || lat == 0 || lng == 0 {
		return model.Incident{}, false
	}
	month, err := model.ParseMonth(cr.Month)
	if err != nil {
		return model.Incident{}, false
	}

	inc := model.Incident{
		ID:       cr.PersistentID,
		Category: cr.Category,
		Month:    month,
		Location: model.Point{Lng: lng, Lat: lat},
		ForceID:  c.forceID,
	}
	if inc.ID == "" {
		inc.ID = fmt.Sprintf("api-%d", cr.ID)
	}
	if cr.Location.Street != nil {
		inc.LocationDesc = cr.Location.Street.Name
	}
	if cr.OutcomeStatus != nil {
		inc.Outcome = cr.OutcomeStatus.Category
	}
	return inc, true
}

// polyParam renders a box as the API's "lat,lng:lat,lng:..." polygon.
func polyParam(b model.BBox) string {
	pts := [][2]float64{
		{b.MinLat, b.MinLng},
		{b.MaxLat, b.MinLng},
		{b.MaxLat, b.MaxLng},
		{b.MinLat, b.MaxLng},
	}
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = strconv.FormatFloat(p[0], 'f', -1, 64) + "," + strconv.FormatFloat(p[1], 'f', -1, 64)
	}
	return strings.Join(parts, ":")
}

// Quadrants splits a box into four equal boxes.
func Quadrants(b model.BBox) []model.BBox {
	midLng := (b.MinLng + b.MaxLng) / 2
	midLat := (b.MinLat + b.MaxLat) / 2
	return []model.BBox{
		{MinLng: b.MinLng, MinLat: b.MinLat, MaxLng: midLng, MaxLat: midLat},
		{MinLng: midLng, MinLat: b.MinLat, MaxLng: b.MaxLng, MaxLat: midLat},
		{MinLng: b.MinLng, MinLat: midLat, MaxLng: midLng, MaxLat: b.MaxLat},
		{MinLng: midLng, MinLat: midLat, MaxLng: b.MaxLng, MaxLat: b.MaxLat},
	}
}
