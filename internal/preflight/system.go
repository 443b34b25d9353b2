package preflight

import (
	"context"
	"fmt"
	"syscall"

	"github.com/Aman-CERP/careindex/internal/gate"
)

// MinFileDescriptors is the descriptor limit below which the watcher may
// run out of watches on a large fiche tree.
const MinFileDescriptors = 1024

// CheckStorage probes the data directory the way every pipeline run does.
func (c *Checker) CheckStorage() CheckResult {
	result := CheckResult{Name: "storage", Required: true, Details: c.cfg.Paths.DataDir}

	if err := gate.NewGuard(c.cfg.Paths.DataDir, 0).Probe(); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = "writable"
	return result
}

// CheckFileDescriptors checks the open file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors"}

	limit, err := c.fdLimit()
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}
	if limit < MinFileDescriptors {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d (minimum: %d)", limit, MinFileDescriptors)
		result.Details = "Run 'ulimit -n 10240' or 'careindex watch --poll'"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d (minimum: %d)", limit, MinFileDescriptors)
	return result
}

// CheckEmbedder builds the configured embedder and asks whether it can
// embed now. Rebuilds and queries both need it.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	emb := c.cfg.Embeddings
	result := CheckResult{Name: "embedder", Required: true}

	e, err := c.newEmbedder(ctx, emb)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		result.Details = "provider " + emb.Provider
		return result
	}
	defer func() { _ = e.Close() }()

	result.Details = fmt.Sprintf("provider %s, model %s, %d dimensions", emb.Provider, e.ModelName(), e.Dimensions())
	if !e.Available(ctx) {
		result.Status = StatusFail
		result.Message = "embedder not reachable"
		return result
	}
	result.Status = StatusPass
	result.Message = e.ModelName()
	return result
}

func fileDescriptorLimit() (uint64, error) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}
	return rLimit.Cur, nil
}
