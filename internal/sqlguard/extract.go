package sqlguard

import (
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// leadingKeywords are words a statement may start with. Mutating keywords
// are included so that such statements are extracted and then rejected by
// Validate.
const leadingKeywords = `select|with|values|table|insert|update|delete|merge|drop|alter|truncate|create|grant|revoke|copy|call|do|set|explain|begin|vacuum|comment|lock|refresh|reindex|cluster|discard|reset`

var (
	fencePattern     = regexp.MustCompile("(?s)```([^\n`]*)\n?(.*?)(?:```|$)")
	lineStartPattern = regexp.MustCompile(`(?im)^[ \t]*(?:` + leadingKeywords + `)\b`)
	upperPattern     = regexp.MustCompile(`\b(?:SELECT|WITH|INSERT|UPDATE|DELETE|MERGE|DROP|ALTER|TRUNCATE|CREATE)\b`)
	anywherePattern  = regexp.MustCompile(`(?i)\b(?:select|insert|update|delete|merge|drop|alter|truncate|create)\b`)
	blankLinePattern = regexp.MustCompile(`\n[ \t]*\n`)
	languageTag      = regexp.MustCompile(`(?i)^(?:sql|postgresql|postgres|pgsql|psql|plpgsql)$`)
)

// Extract finds the first plausible SQL statement in a model response. It
// prefers a fenced code block, then lines starting with a statement
// keyword, then upper case keywords, then a keyword anywhere in the text.
// Each candidate runs to the first blank line. Several of the keywords are
// also ordinary English words, so the first candidate that parses wins;
// when none parse the first one is returned and Validate rejects it.
func Extract(raw string) (string, bool) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	if block, ok := fencedBlock(text); ok {
		text = block
	}

	candidates := candidateStatements(text)
	if len(candidates) == 0 {
		return "", false
	}
	for _, candidate := range candidates {
		if _, err := pg_query.Parse(candidate); err == nil {
			return candidate, true
		}
	}
	return candidates[0], true
}

func candidateStatements(text string) []string {
	seen := map[int]struct{}{}
	var out []string
	for _, pattern := range []*regexp.Regexp{lineStartPattern, upperPattern, anywherePattern} {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			if _, dup := seen[loc[0]]; dup {
				continue
			}
			seen[loc[0]] = struct{}{}
			if candidate := statementAt(text, loc[0]); candidate != "" {
				out = append(out, candidate)
			}
		}
	}
	return out
}

func statementAt(text string, start int) string {
	candidate := text[start:]
	if loc := blankLinePattern.FindStringIndex(candidate); loc != nil {
		candidate = candidate[:loc[0]]
	}
	return strings.TrimSpace(strings.ReplaceAll(candidate, "```", ""))
}

func fencedBlock(text string) (string, bool) {
	match := fencePattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	info := strings.TrimSpace(match[1])
	body := match[2]
	switch {
	case info == "":
	case languageTag.MatchString(info):
	default:
		// Inline fence such as ```SELECT 1```: the info string is the statement.
		body = info + "\n" + body
	}
	if strings.TrimSpace(body) == "" {
		return "", false
	}
	return body, true
}
