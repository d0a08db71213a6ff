package inet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrFetchFailed is returned when a measurement provider responds with a
// non-200 status.
var ErrFetchFailed = errors.New("fetch failed")

// Fetcher retrieves a latency dataset from a measurement provider.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]Measurement, error)
}

// DefaultSources returns the supported dataset providers keyed by name.
func DefaultSources() map[string]Fetcher {
	return map[string]Fetcher{
		"cloudping":     NewCloudPing(),
		"wondernetwork": NewWonderNetwork(),
		"gcloudping":    NewGCloudPing(),
	}
}

func get(ctx context.Context, client *http.Client, url, name string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, name, resp.StatusCode)
	}
	return resp, nil
}

// CloudPing fetches AWS inter-region latency averages from cloudping.co.
type CloudPing struct {
	Client  *http.Client
	BaseURL string
	Days    int
}

func NewCloudPing() *CloudPing {
	return &CloudPing{
		Client:  http.DefaultClient,
		BaseURL: "https://api.cloudping.co/averages/day",
		Days:    7,
	}
}

func (c *CloudPing) Name() string { return "cloudping" }

func (c *CloudPing) Fetch(ctx context.Context) ([]Measurement, error) {
	resp, err := get(ctx, c.Client, fmt.Sprintf("%s/%d", c.BaseURL, c.Days), c.Name())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload []struct {
		Region   string `json:"region"`
		Averages []struct {
			RegionTo string  `json:"regionTo"`
			Average  float64 `json:"average"`
		} `json:"averages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding cloudping response: %w", err)
	}

	var result []Measurement
	for _, from := range payload {
		for _, to := range from.Averages {
			result = append(result, Measurement{
				Source:      from.Region,
				Destination: to.RegionTo,
				Avg:         to.Average,
				Max:         -1,
				Min:         -1,
			})
		}
	}
	return result, nil
}

// WonderNetwork fetches ping statistics between globally distributed servers
// from wondernetwork.com.
type WonderNetwork struct {
	Client  *http.Client
	BaseURL string
	Regions []int
}

func NewWonderNetwork() *WonderNetwork {
	return &WonderNetwork{
		Client:  http.DefaultClient,
		BaseURL: "https://wondernetwork.com/ping-data",
		Regions: []int{
			4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 26, 37, 208, 67, 47, 50, 96, 43,
			200, 22, 104, 91, 19, 153, 60, 66, 34, 244, 108,
		},
	}
}

func (w *WonderNetwork) Name() string { return "wondernetwork" }

func (w *WonderNetwork) Fetch(ctx context.Context) ([]Measurement, error) {
	ids := make([]string, len(w.Regions))
	for i, id := range w.Regions {
		ids[i] = strconv.Itoa(id)
	}
	encoded := strings.Join(ids, ",")
	url := fmt.Sprintf("%s?sources=%s&destinations=%s", w.BaseURL, encoded, encoded)

	resp, err := get(ctx, w.Client, url, w.Name())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		PingData map[string]map[string]struct {
			SourceName      string `json:"source_name"`
			DestinationName string `json:"destination_name"`
			Avg             string `json:"avg"`
			Max             string `json:"max"`
			Min             string `json:"min"`
		} `json:"pingData"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding wondernetwork response: %w", err)
	}

	var result []Measurement
	for _, destinations := range payload.PingData {
		for _, m := range destinations {
			avg, err := strconv.ParseFloat(m.Avg, 64)
			if err != nil {
				return nil, fmt.Errorf("decoding wondernetwork response: %w", err)
			}
			max, _ := strconv.ParseFloat(m.Max, 64)
			min, _ := strconv.ParseFloat(m.Min, 64)
			result = append(result, Measurement{
				Source:      m.SourceName,
				Destination: m.DestinationName,
				Avg:         avg,
				Max:         max,
				Min:         min,
			})
		}
	}
	return result, nil
}

// GCloudPing fetches the Google Cloud inter-region latency matrix published
// by gcloudping.com.
type GCloudPing struct {
	Client  *http.Client
	BaseURL string
}

func NewGCloudPing() *GCloudPing {
	return &GCloudPing{
		Client: http.DefaultClient,
		// the API IP may change, it is the backend of http://gcloudping.com/
		BaseURL: "http://35.202.190.222/api/latencies/matrix",
	}
}

func (g *GCloudPing) Name() string { return "gcloudping" }

func (g *GCloudPing) Fetch(ctx context.Context) ([]Measurement, error) {
	resp, err := get(ctx, g.Client, g.BaseURL, g.Name())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Regions   []string     `json:"regions"`
		Latencies [][]*float64 `json:"latencies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding gcloudping response: %w", err)
	}

	var result []Measurement
	for fromID, toItems := range payload.Latencies {
		if fromID >= len(payload.Regions) {
			break
		}
		for toID, value := range toItems {
			if value == nil || toID >= len(payload.Regions) {
				continue
			}
			result = append(result, Measurement{
				Source:      payload.Regions[fromID],
				Destination: payload.Regions[toID],
				Avg:         *value,
				Max:         -1,
				Min:         -1,
			})
		}
	}
	return result, nil
}
