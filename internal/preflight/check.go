package preflight

import (
	"context"

	"github.com/Aman-CERP/careindex/internal/config"
	"github.com/Aman-CERP/careindex/internal/embed"
)

// CheckStatus is the outcome of one check, serialized as-is.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// CheckResult is what one check found. A failing Required check means
// the index cannot be built or served.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker inspects one project before it is indexed.
type Checker struct {
	cfg         *config.Config
	newEmbedder func(ctx context.Context, cfg config.EmbeddingsConfig) (embed.Embedder, error)
	fdLimit     func() (uint64, error)
}

func New(cfg *config.Config) *Checker {
	return &Checker{cfg: cfg, newEmbedder: embed.NewEmbedder, fdLimit: fileDescriptorLimit}
}

// RunAll runs storage, docx sources, trusted sites, embedder and file
// descriptor checks, in that order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	return []CheckResult{
		c.CheckStorage(),
		c.CheckDocxSources(),
		c.CheckTrustedSites(),
		c.CheckEmbedder(ctx),
		c.CheckFileDescriptors(),
	}
}

// ConfigFailure stands in for every check when the configuration does not
// load.
func ConfigFailure(err error) CheckResult {
	return CheckResult{Name: "config", Status: StatusFail, Message: err.Error(), Required: true}
}

func HasCriticalFailures(results []CheckResult) bool {
	return SummaryStatus(results) == "failed"
}

// SummaryStatus folds results into "ready", "ready_with_warnings" or
// "failed".
func SummaryStatus(results []CheckResult) string {
	summary := "ready"
	for _, r := range results {
		switch {
		case r.IsCritical():
			return "failed"
		case r.Status != StatusPass:
			summary = "ready_with_warnings"
		}
	}
	return summary
}
