package main

// The payment state graph. FAILED and REFUNDED are terminal.
var validTransitions = map[string][]string{
	StatusInitiated:  {StatusAuthorized, StatusFailed},
	StatusAuthorized: {StatusCaptured, StatusFailed, StatusRefunded},
	StatusCaptured:   {StatusRefunded},
	StatusFailed:     {},
	StatusRefunded:   {},
}

// ValidateTransition reports whether current → next is allowed.
func ValidateTransition(current, next string) bool {
	for _, allowed := range validTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from current.
func AllowedTransitions(current string) []string {
	return validTransitions[current]
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(status string) bool {
	allowed, known := validTransitions[status]
	return known && len(allowed) == 0
}
