package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
)

type lookupResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []lookupResult `json:"results"`
}

type lookupResult struct {
	BundleID     string `json:"bundleId"`
	TrackName    string `json:"trackName"`
	Version      string `json:"version"`
	DownloadURL  string `json:"downloadUrl"`
	MD5          string `json:"md5"`
	ArtworkURL   string `json:"artworkUrl512,omitempty"`
	ArtworkURL60 string `json:"artworkUrl60,omitempty"`
}

// HTTPLookup queries a JSON catalog endpoint at {base}/lookup.
type HTTPLookup struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPLookup(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPLookup {
	return &HTTPLookup{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Lookup implements Lookup. Misses and empty result sets wrap ErrNotFound.
func (l *HTTPLookup) Lookup(ctx context.Context, candidate CandidateType, itemID string, account Account) (*domain.ItemDescriptor, error) {
	q := url.Values{}
	q.Set("entity", string(candidate))
	q.Set("bundleId", itemID)
	q.Set("country", strings.ToLower(account.CountryCode))
	q.Set("dsid", account.DirectoryServicesID)

	endpoint := l.baseURL + "/lookup?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", candidate, itemID, errpkg.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup bad status: %s", resp.Status)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}

	for _, r := range body.Results {
		if r.BundleID != "" && r.BundleID != itemID {
			continue
		}
		desc := r.descriptor(itemID)
		if err := desc.Validate(); err != nil {
			l.logger.Warn("catalog returned unusable entry",
				"item_id", itemID,
				"candidate", candidate,
				"error", err,
			)
			continue
		}
		return desc, nil
	}

	return nil, fmt.Errorf("%s %s: %w", candidate, itemID, errpkg.ErrNotFound)
}

func (r lookupResult) descriptor(itemID string) *domain.ItemDescriptor {
	avatar := r.ArtworkURL
	if avatar == "" {
		avatar = r.ArtworkURL60
	}
	return &domain.ItemDescriptor{
		ItemID:    itemID,
		Name:      r.TrackName,
		Version:   r.Version,
		SourceURL: r.DownloadURL,
		Checksum:  r.MD5,
		AvatarURL: avatar,
	}
}
