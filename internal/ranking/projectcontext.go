// Package ranking: project context detection. The active project is a
// weighted vote over recent memories; when no candidate clears 40% of
// the total weight the detection abstains rather than guess.

package ranking

import (
	"path"
	"strings"

	"github.com/tendrilhq/tendril/internal/memory"
)

// Vote weights, strongest evidence first.
const (
	voteExplicitProject = 3.0
	votePathDerived     = 2.0
	voteActiveProfile   = 1.0
	voteDominantCluster = 1.0

	// detectionQuorum is the share of total weight the winner must
	// strictly exceed.
	detectionQuorum = 0.40
)

// pathProjectParents are directory names whose next segment is usually a
// project name.
var pathProjectParents = map[string]bool{
	"projects": true, "src": true, "work": true, "repos": true,
	"code": true, "dev": true, "workspace": true,
	"github.com": true, "gitlab.com": true,
}

// pathSkipSegments never name a project.
var pathSkipSegments = map[string]bool{
	"home": true, "users": true, "tmp": true, "var": true,
	"opt": true, "mnt": true, ".git": true,
}

// ProjectContextManager detects the active project from recent activity
// and scores candidate memories against it. An optional ActiveProfile
// name contributes one weak vote per detection.
type ProjectContextManager struct {
	ActiveProfile string
}

// DetectCurrentProject runs the weighted vote over recent memories.
// Returns "" when the evidence is too split to call (no candidate holds
// strictly more than 40% of the total weight).
func (m *ProjectContextManager) DetectCurrentProject(recent []*memory.Memory) string {
	votes := make(map[string]float64)
	display := make(map[string]string) // lowercase key -> first-seen casing
	total := 0.0
	cast := func(name string, weight float64) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, ok := display[key]; !ok {
			display[key] = name
		}
		votes[key] += weight
		total += weight
	}

	clusterCounts := make(map[string]int)
	for _, mem := range recent {
		if mem == nil {
			continue
		}
		cast(mem.Project, voteExplicitProject)
		cast(projectFromPath(mem.Path), votePathDerived)
		if p := strings.TrimSpace(strings.ToLower(mem.Project)); p != "" {
			clusterCounts[p]++
		}
	}

	cast(m.ActiveProfile, voteActiveProfile)

	// Dominant cluster: the single most frequent explicit project among
	// the recent batch gets one reinforcing vote.
	bestCluster, bestCount := "", 0
	for name, n := range clusterCounts {
		if n > bestCount {
			bestCluster, bestCount = name, n
		}
	}
	if bestCount > 0 {
		cast(bestCluster, voteDominantCluster)
	}

	if total == 0 {
		return ""
	}
	winner, winnerVotes := "", 0.0
	for name, v := range votes {
		if v > winnerVotes {
			winner, winnerVotes = name, v
		}
	}
	if winnerVotes <= total*detectionQuorum {
		return ""
	}
	return display[winner]
}

// projectFromPath guesses a project name from a file path: the first
// meaningful segment after a recognized parent directory, falling back
// to the last meaningful segment before the filename.
func projectFromPath(filePath string) string {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return ""
	}
	segments := strings.Split(path.Clean(strings.ReplaceAll(filePath, "\\", "/")), "/")

	meaningful := func(seg string) bool {
		return len(seg) > 1 && !pathSkipSegments[strings.ToLower(seg)]
	}

	for i := 0; i < len(segments)-1; i++ {
		if !pathProjectParents[strings.ToLower(segments[i])] {
			continue
		}
		// Skip chained parents like src/github.com/org
		j := i + 1
		for j < len(segments)-1 && pathProjectParents[strings.ToLower(segments[j])] {
			j++
		}
		if j < len(segments) && meaningful(segments[j]) && !pathProjectParents[strings.ToLower(segments[j])] {
			return segments[j]
		}
	}

	// Fallback: last meaningful directory segment (the final segment is
	// assumed to be a filename and never used).
	for i := len(segments) - 2; i >= 0; i-- {
		if meaningful(segments[i]) && !pathProjectParents[strings.ToLower(segments[i])] {
			return segments[i]
		}
	}
	return ""
}

// ProjectBoost scores a memory against the current project: exact
// case-insensitive match 1.0, mismatch 0.3, and a neutral 0.6 when
// either side carries no project at all.
func (m *ProjectContextManager) ProjectBoost(mem *memory.Memory, currentProject string) float64 {
	if mem == nil {
		return 0.6
	}
	memProject := strings.TrimSpace(mem.Project)
	current := strings.TrimSpace(currentProject)
	if memProject == "" || current == "" {
		return 0.6
	}
	if strings.EqualFold(memProject, current) {
		return 1.0
	}
	return 0.3
}
