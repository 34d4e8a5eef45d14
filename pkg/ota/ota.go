// Package ota implements the gate firmware update check: fetching
// a release list from a configured update channel, filtering to valid
// semantic-version tags, matching the asset named for this platform,
// and picking the lowest release newer than the one currently running.
package ota

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Version is a parsed major.minor.patch semantic version.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less reports whether v is strictly older than other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

// ParseVersion parses "1.2.3", rejecting anything else including a
// leading "v" (callers strip that themselves, matching how release tags
// carry it but running firmware's own version string does not).
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("ota: %q is not major.minor.patch", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("ota: invalid version component %q", p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Release is one entry from a channel's release list, filtered down to
// the platform's matching firmware asset.
type Release struct {
	Version     Version
	FirmwareURL string
}

type releaseAsset struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type releaseAssets struct {
	Links []releaseAsset `json:"links"`
}

type releaseEntry struct {
	TagName string        `json:"tag_name"`
	Assets  releaseAssets `json:"assets"`
}

// Client polls HTTP update channels and picks the best next release for
// a given running firmware identity.
type Client struct {
	HTTP     *http.Client
	Platform string  // e.g. "esp32-gate"
	Running  Version // the firmware version currently executing
}

// NewClient returns a Client with a 30-second bounded timeout for
// update traffic.
func NewClient(platform string, running Version) *Client {
	return &Client{HTTP: &http.Client{Timeout: 30 * time.Second}, Platform: platform, Running: running}
}

// FetchReleases retrieves and parses channelURL's release list, keeping
// only entries with a "v"-prefixed semantic-version tag and an asset
// named "<platform>-<version>.bin".
func (c *Client) FetchReleases(channelURL string) ([]Release, error) {
	req, err := http.NewRequest(http.MethodGet, channelURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ota: building request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("ota: fetching %s: %w", channelURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ota: %s returned %s", channelURL, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ota: reading response body: %w", err)
	}

	var entries []releaseEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("ota: invalid JSON payload: %w", err)
	}

	var out []Release
	for _, e := range entries {
		if !strings.HasPrefix(e.TagName, "v") {
			continue
		}
		ver, err := ParseVersion(strings.TrimPrefix(e.TagName, "v"))
		if err != nil {
			continue
		}
		wantName := fmt.Sprintf("%s-%s.bin", c.Platform, ver)
		for _, link := range e.Assets.Links {
			if link.Name == wantName && link.URL != "" {
				out = append(out, Release{Version: ver, FirmwareURL: link.URL})
				break
			}
		}
	}
	return out, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// CheckForUpdates implements gateproto.UpdateChecker: it fetches
// channelURL and returns the URL of the lowest release strictly newer
// than c.Running, or found=false if none qualifies.
func (c *Client) CheckForUpdates(channelURL string) (url string, found bool, err error) {
	releases, err := c.FetchReleases(channelURL)
	if err != nil {
		return "", false, err
	}
	var best *Release
	for i := range releases {
		r := &releases[i]
		if !c.Running.Less(r.Version) {
			continue
		}
		if best == nil || r.Version.Less(best.Version) {
			best = r
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.FirmwareURL, true, nil
}
