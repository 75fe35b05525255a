package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/gateway"
)

// Recommender API endpoint
const defaultRecommenderAPI = "https://recommender.googleapis.com/v1"

// HTTPSource queries the provider recommender REST API
type HTTPSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type listResponse struct {
	Recommendations []RawRecommendation `json:"recommendations"`
	NextPageToken   string              `json:"nextPageToken"`
}

// NewHTTPSource creates a source against the provider recommender API.
// baseURL may be empty for the real endpoint; tests point it at a local
// server. The bearer token is read from RECOMMENDER_API_TOKEN.
func NewHTTPSource(baseURL string) *HTTPSource {
	if baseURL == "" {
		baseURL = defaultRecommenderAPI
	}
	return &HTTPSource{
		baseURL: baseURL,
		token:   os.Getenv("RECOMMENDER_API_TOKEN"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Query lists the recommender's findings for one project and location,
// following pagination until exhausted
func (s *HTTPSource) Query(ctx context.Context, q Query) ([]RawRecommendation, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/locations/%s/recommenders/%s/recommendations",
		s.baseURL, url.PathEscape(q.Project), url.PathEscape(q.Location), url.PathEscape(q.Recommender))

	var all []RawRecommendation
	pageToken := ""

	for {
		page, next, err := s.fetchPage(ctx, endpoint, pageToken)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		pageToken = next
	}
}

func (s *HTTPSource) fetchPage(ctx context.Context, endpoint, pageToken string) ([]RawRecommendation, string, error) {
	reqURL := endpoint
	if pageToken != "" {
		reqURL = endpoint + "?pageToken=" + url.QueryEscape(pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, "", err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Network failures are worth retrying.
		return nil, "", gateway.Transient("recommender query", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, "", gateway.Transient("recommender query",
			fmt.Errorf("recommender API returned status %d", resp.StatusCode))
	default:
		return nil, "", fmt.Errorf("recommender API returned status %d", resp.StatusCode)
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, "", fmt.Errorf("failed to decode recommender response: %w", err)
	}

	return list.Recommendations, list.NextPageToken, nil
}
