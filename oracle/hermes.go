package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HermesSource fetches the latest price update for a feed from a Hermes-style
// pull-oracle HTTP endpoint.
type HermesSource struct {
	client   HTTPDoer
	endpoint string
}

const defaultHermesEndpoint = "https://hermes.pyth.network/v2/updates/price/latest"

// NewHermesSource constructs a Hermes source. When the client is nil
// http.DefaultClient is used; an empty endpoint falls back to the public
// default.
func NewHermesSource(client HTTPDoer, endpoint string) *HermesSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultHermesEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HermesSource{client: client, endpoint: ep}
}

func (s *HermesSource) GetPrice(feedID string) (Quote, error) {
	if s == nil {
		return Quote{}, fmt.Errorf("hermes source not configured")
	}
	trimmed := strings.TrimSpace(feedID)
	if trimmed == "" {
		return Quote{}, ErrFeedNotFound
	}
	req, err := http.NewRequest(http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Add("ids[]", trimmed)
	req.URL.RawQuery = values.Encode()
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("hermes source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Parsed []struct {
			ID    string `json:"id"`
			Price struct {
				Price       string `json:"price"`
				Conf        string `json:"conf"`
				Expo        int32  `json:"expo"`
				PublishTime int64  `json:"publish_time"`
			} `json:"price"`
		} `json:"parsed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("hermes source: decode: %w", err)
	}
	for _, entry := range payload.Parsed {
		if !strings.EqualFold(strings.TrimPrefix(entry.ID, "0x"), strings.TrimPrefix(trimmed, "0x")) {
			continue
		}
		price, err := strconv.ParseInt(strings.TrimSpace(entry.Price.Price), 10, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("hermes source: invalid price %q", entry.Price.Price)
		}
		conf, err := strconv.ParseUint(strings.TrimSpace(entry.Price.Conf), 10, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("hermes source: invalid conf %q", entry.Price.Conf)
		}
		return Quote{
			Price:       price,
			Conf:        conf,
			Expo:        entry.Price.Expo,
			PublishTime: entry.Price.PublishTime,
		}, nil
	}
	return Quote{}, ErrFeedNotFound
}
