package models

// Job lifecycle statuses. "processing" is a legacy alias for "writing"
// still accepted on input for older records.
const (
	StatusQueued      = "queued"
	StatusResearching = "researching"
	StatusScraping    = "scraping"
	StatusWriting     = "writing"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusScheduled   = "scheduled"
	StatusPosted      = "posted"
	StatusFailed      = "failed"
)

// statusGraph is the only definition of legal job transitions.
// failed -> queued is the user-initiated retry edge; posted is terminal.
var statusGraph = map[string][]string{
	StatusQueued:      {StatusResearching, StatusFailed},
	StatusResearching: {StatusScraping, StatusFailed},
	StatusScraping:    {StatusWriting, StatusFailed},
	StatusWriting:     {StatusCompleted, StatusScheduled, StatusFailed},
	StatusCompleted:   {StatusPosted},
	StatusScheduled:   {StatusPosted},
	StatusPosted:      {},
	StatusFailed:      {StatusQueued},
}

// NormalizeStatus maps the legacy processing alias onto writing.
func NormalizeStatus(status string) string {
	if status == StatusProcessing {
		return StatusWriting
	}
	return status
}

// KnownStatus reports whether status is a recognized lifecycle state.
func KnownStatus(status string) bool {
	_, ok := statusGraph[NormalizeStatus(status)]
	return ok
}

// ValidTransition reports whether from -> to is an edge of the job
// state machine.
func ValidTransition(from, to string) bool {
	from = NormalizeStatus(from)
	to = NormalizeStatus(to)
	for _, next := range statusGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TerminalStatus reports whether no outgoing edges remain.
func TerminalStatus(status string) bool {
	return len(statusGraph[NormalizeStatus(status)]) == 0
}
