package review

import "regexp"

// ticketKeyPattern matches JIRA-convention ticket keys such as CORE-142
// or INFRA_OPS-9. Lowercase and purely numeric project prefixes are not
// recognized; repos using those conventions will not get ticket links.
var ticketKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9_]+-\d+\b`)

// ExtractTicketKeys returns the unique ticket keys found across the
// inputs, in first-seen order. Typical inputs are the PR title, body,
// and head branch name.
func ExtractTicketKeys(texts ...string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, text := range texts {
		for _, key := range ticketKeyPattern.FindAllString(text, -1) {
			if seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}
