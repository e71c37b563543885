package prcontext

import (
	"regexp"
	"strconv"
)

var fixesRe = regexp.MustCompile(`(?i)\bfixes\s+#(\d+)\b`)

// ParseFixesReferences returns every issue referenced as "fixes #N" in text,
// in order of first appearance, without duplicates.
func ParseFixesReferences(text string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range fixesRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ParentIssue returns the first "fixes #N" reference in text.
func ParentIssue(text string) (int, bool) {
	refs := ParseFixesReferences(text)
	if len(refs) == 0 {
		return 0, false
	}
	return refs[0], true
}
