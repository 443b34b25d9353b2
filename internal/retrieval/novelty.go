package retrieval

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/fr"
	"github.com/blevesearch/bleve/v2/registry"
)

// TermCounts is a bag of analyzed terms.
type TermCounts map[string]int

// Total returns the number of term occurrences.
func (tc TermCounts) Total() int {
	n := 0
	for _, c := range tc {
		n += c
	}
	return n
}

// Merge adds other into tc.
func (tc TermCounts) Merge(other TermCounts) {
	for t, c := range other {
		tc[t] += c
	}
}

// Overlap returns the share of tc's occurrences already present in ref,
// counting each term at most min(tc[t], ref[t]) times.
func (tc TermCounts) Overlap(ref TermCounts) float64 {
	total := tc.Total()
	if total == 0 {
		return 1
	}
	shared := 0
	for t, c := range tc {
		shared += min(c, ref[t])
	}
	return float64(shared) / float64(total)
}

// Analyzer turns passage text into French term counts: elision, lowercase,
// stop words and light stemming, so "la chute" and "chutes" share a term.
type Analyzer struct {
	analyzer analysis.Analyzer
}

var (
	frOnce     sync.Once
	frAnalyzer analysis.Analyzer
	frErr      error
)

// NewAnalyzer returns the French analyzer. The underlying bleve analyzer is
// built once per process.
func NewAnalyzer() (*Analyzer, error) {
	frOnce.Do(func() {
		frAnalyzer, frErr = registry.NewCache().AnalyzerNamed(fr.AnalyzerName)
	})
	if frErr != nil {
		return nil, fmt.Errorf("build french analyzer: %w", frErr)
	}
	return &Analyzer{analyzer: frAnalyzer}, nil
}

// Terms analyzes text.
func (a *Analyzer) Terms(text string) TermCounts {
	tc := make(TermCounts)
	for _, tok := range a.analyzer.Analyze([]byte(text)) {
		if len(tok.Term) == 0 {
			continue
		}
		tc[string(tok.Term)]++
	}
	return tc
}

// Novelty is 1 - overlap of text against ref.
func (a *Analyzer) Novelty(text string, ref TermCounts) float64 {
	return 1 - a.Terms(text).Overlap(ref)
}
