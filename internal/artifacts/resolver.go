// Package artifacts resolves and downloads a finished job's screenshots and report.
package artifacts

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/ternarybob/scrapetrack/internal/common"
)

// Resolver turns artifact locators into fetchable URLs
type Resolver struct {
	baseURL        string
	screenshotPath string
}

// NewResolver creates a resolver for the service at baseURL
func NewResolver(baseURL, screenshotPath string) *Resolver {
	if screenshotPath == "" {
		screenshotPath = "/screenshot"
	}
	return &Resolver{baseURL: baseURL, screenshotPath: screenshotPath}
}

// NewResolverFromConfig creates a resolver from application config
func NewResolverFromConfig(cfg *common.Config) *Resolver {
	return NewResolver(cfg.Service.BaseURL, cfg.Service.ScreenshotPath)
}

// ScreenshotURL resolves a screenshot locator. Absolute URLs are kept as-is;
// anything else is a single path segment under the screenshot path.
func (r *Resolver) ScreenshotURL(locator string) (string, error) {
	if locator == "" {
		return "", fmt.Errorf("empty screenshot locator")
	}
	if u, err := url.Parse(locator); err == nil && u.IsAbs() {
		return locator, nil
	}
	return common.ResolveServiceURL(r.baseURL, common.JoinLocator(r.screenshotPath, locator))
}

// ReportURL resolves a report handle against the service base URL
func (r *Resolver) ReportURL(handle string) (string, error) {
	return common.ResolveServiceURL(r.baseURL, handle)
}

// Screenshot is one resolved screenshot
type Screenshot struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Screenshots resolves every locator, ordered by label. Unresolvable locators are skipped.
func (r *Resolver) Screenshots(locators map[string]string) []Screenshot {
	labels := make([]string, 0, len(locators))
	for label := range locators {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	shots := make([]Screenshot, 0, len(labels))
	for _, label := range labels {
		resolved, err := r.ScreenshotURL(locators[label])
		if err != nil {
			continue
		}
		shots = append(shots, Screenshot{Label: label, URL: resolved})
	}
	return shots
}
