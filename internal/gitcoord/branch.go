package gitcoord

import (
	"fmt"
	"regexp"
	"strings"
)

// maxBranchLength bounds the generated branch name, per spec §4.2/§8.
const maxBranchLength = 60

var nonBranchChars = regexp.MustCompile(`[^a-z0-9-]+`)
var runsOfDash = regexp.MustCompile(`-+`)

// slug lowercases description, strips everything outside [a-z0-9-],
// collapses runs of '-', and trims leading/trailing dashes.
func slug(description string) string {
	s := strings.ToLower(description)
	s = nonBranchChars.ReplaceAllString(s, "-")
	s = runsOfDash.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return s
}

// GenerateBranchName builds the task branch name "agent/<ticket-id>-<slug>",
// truncated so the total length never exceeds maxBranchLength. An empty
// description yields "agent/<ticket-id>-".
func GenerateBranchName(ticketID, description string) string {
	prefix := "agent/" + ticketID + "-"
	s := slug(description)

	if len(prefix)+len(s) > maxBranchLength {
		budget := maxBranchLength - len(prefix)
		if budget < 0 {
			budget = 0
		}
		if budget < len(s) {
			s = s[:budget]
		}
		s = strings.TrimRight(s, "-")
	}
	return prefix + s
}

// GenerateCommitMessage builds the exact "[<ticket-id>] <description>" form
// spec §4.2/§8 requires.
func GenerateCommitMessage(ticketID, description string) string {
	return fmt.Sprintf("[%s] %s", ticketID, description)
}
