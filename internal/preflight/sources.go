package preflight

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/careindex/internal/ignore"
	"github.com/Aman-CERP/careindex/internal/journal"
	"github.com/Aman-CERP/careindex/internal/source"
)

// CheckDocxSources counts the office documents to index. An empty or
// missing directory only warns: the docx collection is then empty.
func (c *Checker) CheckDocxSources() CheckResult {
	result := CheckResult{Name: "docx_sources", Required: true}
	dir := c.cfg.Paths.DocxDir

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		result.Status = StatusWarn
		result.Message = "directory missing, no fiche will be indexed"
		result.Details = dir
		return result
	}

	m, err := ignore.LoadDir(dir)
	if err != nil {
		m = ignore.New()
	}
	files, err := source.ListFiles(dir, journal.Ext(source.KindDocx), m)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot list fiches: %v", err)
		result.Details = dir
		return result
	}
	if len(files) == 0 {
		result.Status = StatusWarn
		result.Message = "no .docx file found"
		result.Details = dir
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d fiches", len(files))
	result.Details = dir
	return result
}

// CheckTrustedSites validates the trusted-sites file. An invalid file fails:
// runs would keep the web collection untouched until it is fixed.
func (c *Checker) CheckTrustedSites() CheckResult {
	result := CheckResult{Name: "trusted_sites", Required: true, Details: c.cfg.Paths.SitesFile}

	sites, err := source.LoadSites(c.cfg.Paths.SitesFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	if len(sites.Sites) == 0 {
		result.Status = StatusWarn
		result.Message = "no trusted site configured, web passages disabled"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d sites, %d pages", len(sites.Sites), sites.PageCount())
	return result
}
