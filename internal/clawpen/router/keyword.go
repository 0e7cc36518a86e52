package router

import (
	"strings"

	"github.com/clawpen/clawpen/internal/clawpen/team"
)

// keywordScore is the match result for one member.
type keywordScore struct {
	key  string
	hits int
}

// scoreKeywords counts, per member, how many of its keywords occur in the
// message. Matching is case-insensitive substring matching. Scores come back
// in member declaration order.
func scoreKeywords(t *team.Team, message string) []keywordScore {
	lowered := strings.ToLower(message)
	scores := make([]keywordScore, 0, len(t.Members))
	for _, m := range t.Members {
		hits := 0
		for _, kw := range m.Keywords {
			if kw != "" && strings.Contains(lowered, kw) {
				hits++
			}
		}
		scores = append(scores, keywordScore{key: m.Key, hits: hits})
	}
	return scores
}

// bestKeyword returns the member with the most keyword hits. Ties resolve to
// the earliest declared member. decisive reports whether the winner both
// matched at least once and was not tied.
func bestKeyword(scores []keywordScore) (key string, hits int, decisive bool) {
	for _, s := range scores {
		if s.hits > hits {
			key, hits = s.key, s.hits
			decisive = true
		} else if s.hits == hits && s.hits > 0 {
			decisive = false
		}
	}
	return key, hits, decisive && hits > 0
}
