package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// DefaultPlatform is requested when ArtifactRequest.Platform is empty.
const DefaultPlatform = "Windows"

const artifactManifestURL = "https://www.fab.com/e/artifacts/%s/manifest"

// Poster sends a request body. http.Fetcher implements it.
type Poster interface {
	Post(ctx context.Context, url, contentType string, body []byte) ([]byte, error)
}

// ArtifactRequest identifies a licensed item for the artifact API.
type ArtifactRequest struct {
	Namespace string `json:"namespace"`
	ItemID    string `json:"item_id"`
	Platform  string `json:"platform"`
}

// ArtifactURL returns the artifact API endpoint for an artifact id.
func ArtifactURL(artifactID string) string {
	return fmt.Sprintf(artifactManifestURL, url.PathEscape(artifactID))
}

// RequestManifestList asks the artifact API at endpoint where the
// manifests of an item can be downloaded.
func RequestManifestList(ctx context.Context, p Poster, endpoint string, req ArtifactRequest) (*ManifestList, error) {
	if req.Platform == "" {
		req.Platform = DefaultPlatform
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode artifact request: %w", err)
	}
	data, err := p.Post(ctx, endpoint, "application/json", body)
	if err != nil {
		return nil, fmt.Errorf("artifact manifest list: %w", err)
	}
	return ParseManifestList(data)
}
