package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vinscan-service/internal/domain/vin"
)

// DefaultBaseURL points at the public NHTSA vPIC decoder.
const DefaultBaseURL = "https://vpic.nhtsa.dot.gov/api/vehicles"

// Client queries an external vehicle registry for make/model/year.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type decodeResponse struct {
	Results []struct {
		Variable string `json:"Variable"`
		Value    string `json:"Value"`
	} `json:"Results"`
}

// Lookup fetches registry data for a validated VIN. Every failure mode
// (network, HTTP status, parse, missing fields) returns nil: a validated
// VIN is usable without registry confirmation, so callers treat nil as
// "proceed without enrichment".
func (c *Client) Lookup(ctx context.Context, vinStr string) *vin.VehicleInfo {
	u := fmt.Sprintf("%s/decodevin/%s?format=json", c.baseURL, url.PathEscape(vinStr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("vin", vinStr).Msg("registry request build failed")
		return nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("vin", vinStr).Msg("registry lookup failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("vin", vinStr).Msg("registry returned non-200")
		return nil
	}

	var payload decodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.log.Warn().Err(err).Str("vin", vinStr).Msg("registry response parse failed")
		return nil
	}

	info := &vin.VehicleInfo{VIN: vinStr}
	for _, r := range payload.Results {
		switch r.Variable {
		case "Make":
			info.Make = r.Value
		case "Model":
			info.Model = r.Value
		case "Model Year":
			info.Year = r.Value
		}
	}
	if info.Make == "" && info.Model == "" && info.Year == "" {
		c.log.Warn().Str("vin", vinStr).Msg("registry response carried no vehicle fields")
		return nil
	}
	return info
}
