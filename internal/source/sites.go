package source

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// Site is one trusted web site and the pages to scrape from it.
type Site struct {
	Name   string   `yaml:"name"`
	Domain string   `yaml:"domain"`
	URLs   []string `yaml:"urls"`
}

// SitesConfig is the trusted-sites file.
type SitesConfig struct {
	Sites []Site `yaml:"sites"`
}

// LoadSites reads and validates the trusted-sites file. A missing file is an
// empty configuration.
func LoadSites(path string) (*SitesConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &SitesConfig{}, nil
	}
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileRead, "read trusted sites file", err)
	}
	return ParseSites(data)
}

// ParseSites parses and validates trusted-sites YAML.
func ParseSites(data []byte) (*SitesConfig, error) {
	var cfg SitesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeSitesConfigInvalid, "malformed trusted sites file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate requires every URL to be http(s) on its site's domain and to map
// to its own document id.
func (c *SitesConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return cerrors.New(cerrors.ErrCodeSitesConfigInvalid, fmt.Sprintf(format, args...), nil).
			WithSuggestion("fix the trusted sites file; the web collection is left untouched until then")
	}

	seen := map[string]string{}
	for i, s := range c.Sites {
		domain := strings.ToLower(strings.TrimSpace(s.Domain))
		if domain == "" {
			return invalid("site %d (%s) has no domain", i, s.Name)
		}
		for _, raw := range s.URLs {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return invalid("site %s: invalid url %q", domain, raw)
			}
			host := strings.ToLower(u.Hostname())
			if host != domain && !strings.HasSuffix(host, "."+domain) {
				return invalid("site %s: url %q is outside the trusted domain", domain, raw)
			}
			id := WebDocumentID(domain, raw)
			if first, dup := seen[id]; dup {
				return invalid("site %s: urls %q and %q both map to document %s", domain, first, raw, id)
			}
			seen[id] = raw
		}
	}
	return nil
}

// PageCount returns the number of configured pages.
func (c *SitesConfig) PageCount() int {
	n := 0
	for _, s := range c.Sites {
		n += len(s.URLs)
	}
	return n
}
