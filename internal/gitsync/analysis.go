package gitsync

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

type Analysis int

const (
	AnalysisUpToDate Analysis = iota
	AnalysisFastForward
	AnalysisDivergent
	AnalysisUnborn
)

func (a Analysis) String() string {
	switch a {
	case AnalysisUpToDate:
		return "up-to-date"
	case AnalysisFastForward:
		return "fast-forward"
	case AnalysisDivergent:
		return "divergent"
	default:
		return "unborn"
	}
}

// Ancestry answers reachability questions on the commit graph.
type Ancestry interface {
	IsAncestor(ancestor, descendant plumbing.Hash) (bool, error)
}

// Analyze classifies the local branch tip against the fetched commit. A nil
// local tip means the branch does not exist yet.
func Analyze(graph Ancestry, local *plumbing.Hash, fetched plumbing.Hash) (Analysis, error) {
	if local == nil {
		return AnalysisUnborn, nil
	}
	if *local == fetched {
		return AnalysisUpToDate, nil
	}

	if ok, err := graph.IsAncestor(fetched, *local); err != nil {
		return 0, err
	} else if ok {
		return AnalysisUpToDate, nil
	}

	if ok, err := graph.IsAncestor(*local, fetched); err != nil {
		return 0, err
	} else if ok {
		return AnalysisFastForward, nil
	}

	return AnalysisDivergent, nil
}

type repositoryGraph struct {
	repo *git.Repository
}

func (g repositoryGraph) IsAncestor(ancestor, descendant plumbing.Hash) (bool, error) {
	a, err := g.repo.CommitObject(ancestor)
	if err != nil {
		return false, err
	}
	d, err := g.repo.CommitObject(descendant)
	if err != nil {
		return false, err
	}
	return a.IsAncestor(d)
}
