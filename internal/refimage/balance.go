package refimage

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Subject is one identity whose photos compete for identity slots.
type Subject struct {
	ID     string
	Role   string
	Images []string
}

var childRoleKeywords = []string{"宝宝", "儿童", "baby", "child"}

// IsChildRole reports whether role names a child or minor.
func IsChildRole(role string) bool {
	fold := cases.Fold()
	folded := fold.String(role)
	for _, kw := range childRoleKeywords {
		if strings.Contains(folded, fold.String(kw)) {
			return true
		}
	}
	return false
}

// RolePriority ranks roles; lower goes first.
func RolePriority(role string) int {
	if IsChildRole(role) {
		return 0
	}
	return 1
}

// RankSubjects orders subjects by role priority. Equal priorities keep their
// input order.
func RankSubjects(subjects []Subject) []Subject {
	ranked := append([]Subject(nil), subjects...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return RolePriority(ranked[i].Role) < RolePriority(ranked[j].Role)
	})
	return ranked
}

// SelectBalanced picks up to limit identity images: one per subject in rank
// order, then round-robin across subjects, then the flat fallback list.
func SelectBalanced(subjects []Subject, fallback []string, limit int) []string {
	if limit <= 0 {
		return []string{}
	}
	ranked := RankSubjects(subjects)
	queues := make([][]string, len(ranked))
	for i, s := range ranked {
		queues[i] = normalizeAll(s.Images)
	}

	out := make([]string, 0, limit)
	seen := make(map[string]bool, limit)
	take := func(ref string) bool {
		if ref == "" || seen[ref] {
			return false
		}
		seen[ref] = true
		out = append(out, ref)
		return true
	}
	// next pops the first unseen image from queue i.
	next := func(i int) bool {
		for len(queues[i]) > 0 {
			ref := queues[i][0]
			queues[i] = queues[i][1:]
			if take(ref) {
				return true
			}
		}
		return false
	}

	// The first round is the "everyone gets one" pass; later rounds are the
	// round-robin fill. Both walk subjects in rank order.
	for progress := true; progress && len(out) < limit; {
		progress = false
		for i := range queues {
			if len(out) >= limit {
				break
			}
			if next(i) {
				progress = true
			}
		}
	}

	for _, ref := range normalizeAll(fallback) {
		if len(out) >= limit {
			break
		}
		take(ref)
	}
	return out
}
