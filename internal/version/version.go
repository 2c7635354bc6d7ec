// Package version holds the build version and the GitHub release check.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

const latestReleaseURL = "https://api.github.com/repos/isaacs-12/nso-gc-bridge/releases/latest"

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// parse splits a "v1.2.3" style tag into its numeric triple. Anything it
// cannot parse compares as 0.0.0.
func parse(v string) [3]int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		if i > 2 {
			break
		}
		if dash := strings.IndexAny(part, "-+"); dash >= 0 {
			part = part[:dash]
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}

func newer(a, b [3]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// CheckLatest asks GitHub for the newest release. It returns the tag and
// URL when that release is newer than the running build, and ok=false
// otherwise. Development builds never report an update.
func CheckLatest(ctx context.Context) (tag, url string, ok bool, err error) {
	if Version == "dev" {
		return "", "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, latestReleaseURL, nil)
	if err != nil {
		return "", "", false, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", false, fmt.Errorf("querying releases: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", false, fmt.Errorf("querying releases: status %s", resp.Status)
	}
	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", "", false, fmt.Errorf("parsing release: %w", err)
	}
	if newer(parse(rel.TagName), parse(Version)) {
		return rel.TagName, rel.HTMLURL, true, nil
	}
	return "", "", false, nil
}
