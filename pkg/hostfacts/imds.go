package hostfacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const tokenTTLSeconds = "21600"

// metadataReachable probes a metadata path, falling back to session-token
// authentication when the service demands it.
func (c *Collector) metadataReachable(ctx context.Context, path string) (bool, error) {
	status, _, err := c.metadataGet(ctx, path, "")
	if err != nil {
		return false, err
	}

	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized:
		token, err := c.metadataToken(ctx)
		if err != nil {
			return false, err
		}
		status, _, err = c.metadataGet(ctx, path, token)
		if err != nil {
			return false, err
		}
		return status == http.StatusOK, nil
	default:
		return false, nil
	}
}

// metadataText fetches a metadata path's body, falling back to session-token
// authentication when the service demands it.
func (c *Collector) metadataText(ctx context.Context, path string) (string, error) {
	status, body, err := c.metadataGet(ctx, path, "")
	if err != nil {
		return "", err
	}

	switch status {
	case http.StatusOK:
		return body, nil
	case http.StatusUnauthorized:
		token, err := c.metadataToken(ctx)
		if err != nil {
			return "", err
		}
		status, body, err = c.metadataGet(ctx, path, token)
		if err != nil {
			return "", err
		}
		if status != http.StatusOK {
			return "", fmt.Errorf("metadata service returned status %d for %s", status, path)
		}
		return body, nil
	default:
		return "", fmt.Errorf("metadata service returned status %d for %s", status, path)
	}
}

// VirtType returns the virtualization profile: "nitro" for nitro-family
// hardware, otherwise the profile reported by the metadata service.
func (c *Collector) VirtType(ctx context.Context) (string, error) {
	if c.Nitro() {
		return "nitro", nil
	}
	profile, err := c.metadataText(ctx, "/latest/meta-data/profile")
	if err != nil {
		return "", fmt.Errorf("failed to query virtualization profile: %w", err)
	}
	return profile, nil
}

// metadataToken requests an IMDSv2 session token.
func (c *Collector) metadataToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.MetadataBase+"/latest/api/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-aws-ec2-metadata-token-ttl-seconds", tokenTTLSeconds)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata token request returned status %d", resp.StatusCode)
	}
	return string(body), nil
}

// metadataGet performs one GET against the metadata service, optionally
// presenting a session token.
func (c *Collector) metadataGet(ctx context.Context, path, token string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.MetadataBase+path, nil)
	if err != nil {
		return 0, "", err
	}
	if token != "" {
		req.Header.Set("X-aws-ec2-metadata-token", token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}
