package module

import "strings"

// Summary emitted when a module's output carries no bracketed status marker.
const unknownSummary = "[UNKNOWN] log missing SUCCESS, FAILURE, or WARN message."

// parseOutput scans module output for status messages and sets the verdict,
// summary, and details. Lines are scanned in order: FAILURE wins immediately
// and stops the scan, WARN is never downgraded by a later SUCCESS, and the
// detail lines are the contiguous "--"-prefixed run immediately following the
// matched status line. Returns whether any status marker was found.
func (m *Module) parseOutput(output string) bool {
	matched := false
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		switch {
		case strings.HasPrefix(line, "[SUCCESS]") && m.Verdict != VerdictWarn:
			m.Verdict = VerdictSuccess
			m.Summary = line
			m.Details = parseStatusDetails(lines[i+1:])
			matched = true
		case strings.HasPrefix(line, "[FAILURE]"):
			m.Verdict = VerdictFailure
			m.Summary = line
			m.Details = parseStatusDetails(lines[i+1:])
			return true
		case strings.HasPrefix(line, "[WARN]"):
			m.Verdict = VerdictWarn
			m.Summary = line
			m.Details = parseStatusDetails(lines[i+1:])
			matched = true
		}
	}
	if !matched {
		m.Verdict = VerdictUnknown
		m.Summary = unknownSummary
	}
	return matched
}

// parseStatusDetails collects the leading run of "--"-prefixed lines. The
// first non-matching line ends collection; a later detail line after a gap is
// not resumed.
func parseStatusDetails(lines []string) []string {
	details := []string{}
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if !strings.HasPrefix(line, "--") {
			break
		}
		details = append(details, line)
	}
	return details
}
