package retrieval

import (
	"strings"

	"github.com/linnemanlabs/beacon/internal/incident"
)

// keyTerms is the fixed vocabulary of incident-pattern keywords used to
// bucket candidates that are not SQL-injection shaped.
var keyTerms = []string{"auth", "permission", "timeout", "error", "crash", "memory", "performance"}

// diversityKey classifies a candidate into a coarse bucket derived from
// its summary and service. SQL injection gets sub-classified by technique
// so e.g. union-based and blind findings count as distinct patterns.
func diversityKey(summary, service string) string {
	svc := service
	if svc == "" {
		svc = "unknown"
	}
	if summary == "" || service == "" {
		return svc + "_general"
	}

	s := strings.ToLower(summary)
	if strings.Contains(s, "sql") || strings.Contains(s, "injection") {
		switch {
		case strings.Contains(s, "union"):
			return svc + "_sql_union"
		case strings.Contains(s, "blind"):
			return svc + "_sql_blind"
		case strings.Contains(s, "time"), strings.Contains(s, "delay"):
			return svc + "_sql_time"
		default:
			return svc + "_sql_generic"
		}
	}

	for _, term := range keyTerms {
		if strings.Contains(s, term) {
			return svc + "_" + term
		}
	}
	return svc + "_general"
}

// filterDiverse walks candidates in similarity order and admits at most
// maxPerKey per diversity key. The floor(topK/2) relaxation keeps the
// result from starving when too few distinct patterns exist.
func filterDiverse(candidates []incident.Match, topK, maxPerKey int) []incident.Match {
	counts := make(map[string]int)
	var out []incident.Match
	for _, m := range candidates {
		if len(out) >= topK {
			break
		}
		key := diversityKey(m.Summary, m.Service)
		if counts[key] < maxPerKey || len(out) < topK/2 {
			out = append(out, m)
			counts[key]++
		}
	}
	return out
}
