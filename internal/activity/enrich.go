package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mkcommunity/registry/internal/database"
	"github.com/mkcommunity/registry/internal/problem"
)

const (
	enrichBatchLimit = 2000
	enrichChunkSize  = 100
)

// Classification is one classifier verdict for a single address.
type Classification struct {
	IPAddress string `json:"query"`
	Mobile    bool   `json:"mobile"`
	Proxy     bool   `json:"proxy"`
	Country   string `json:"countryCode"`
	Region    string `json:"region"`
	City      string `json:"city"`
	ASN       int64  `json:"asn"`
}

// Classifier resolves a batch of addresses to classifications.
type Classifier interface {
	Classify(ctx context.Context, addresses []string) ([]Classification, error)
}

// HTTPClassifier POSTs address batches to an external lookup API.
type HTTPClassifier struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewHTTPClassifier(endpoint string, apiKey string) *HTTPClassifier {
	return &HTTPClassifier{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: time.Second * 15},
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, addresses []string) ([]Classification, error) {
	body, errMarshal := json.Marshal(addresses)
	if errMarshal != nil {
		return nil, fmt.Errorf("failed to encode classifier request: %w", errMarshal)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if errReq != nil {
		return nil, fmt.Errorf("failed to create classifier request: %w", errReq)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, errResp := c.Client.Do(req)
	if errResp != nil {
		return nil, problem.External("IP classifier request failed", errResp)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, problem.Newf(http.StatusInternalServerError,
			"IP classifier error", "IP classifier returned status %d", resp.StatusCode)
	}

	var results []Classification
	if errDecode := json.NewDecoder(resp.Body).Decode(&results); errDecode != nil {
		return nil, problem.External("Failed to decode IP classifier response", errDecode)
	}

	return results, nil
}

// EnrichJob classifies unchecked addresses. A failed chunk is left unchecked
// so it is retried on the next tick.
type EnrichJob struct {
	Activity   database.Database
	Classifier Classifier
}

func (j *EnrichJob) Name() string { return "ip_enrichment" }

func (j *EnrichJob) Delay() time.Duration { return time.Minute }

func (j *EnrichJob) Run(ctx context.Context) error {
	addresses, errAddresses := j.uncheckedAddresses(ctx)
	if errAddresses != nil {
		return errAddresses
	}

	for start := 0; start < len(addresses); start += enrichChunkSize {
		end := start + enrichChunkSize
		if end > len(addresses) {
			end = len(addresses)
		}

		results, errClassify := j.Classifier.Classify(ctx, addresses[start:end])
		if errClassify != nil {
			return errClassify
		}

		checkedAt := timeNow().Unix()

		for _, result := range results {
			if errUpdate := j.Activity.ExecUpdateBuilder(ctx, j.Activity.Builder().
				Update("ip_addresses").
				Set("is_mobile", result.Mobile).
				Set("is_vpn", result.Proxy).
				Set("country", result.Country).
				Set("region", result.Region).
				Set("city", result.City).
				Set("asn", result.ASN).
				Set("is_checked", true).
				Set("checked_at", checkedAt).
				Where(sq.Eq{"ip_address": result.IPAddress})); errUpdate != nil {
				return errUpdate
			}
		}

		slog.Debug("Classified addresses", slog.Int("count", len(results)))
	}

	return nil
}

func (j *EnrichJob) uncheckedAddresses(ctx context.Context) ([]string, error) {
	rows, errRows := j.Activity.QueryBuilder(ctx, j.Activity.Builder().
		Select("ip_address").
		From("ip_addresses").
		Where(sq.Eq{"is_checked": false}).
		OrderBy("id").
		Limit(enrichBatchLimit))
	if errRows != nil {
		return nil, errRows
	}

	defer rows.Close()

	var addresses []string

	for rows.Next() {
		var address string
		if errScan := rows.Scan(&address); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		addresses = append(addresses, address)
	}

	return addresses, rows.Err()
}
