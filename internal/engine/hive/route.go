package hive

// Routing classifies where a fresh suggestion surfaces. It is advisory only
// and never blocks creation of the suggestion itself.
type Routing struct {
	AutoSurface           bool `json:"auto_surface"`
	RequiresApprovalQueue bool `json:"requires_approval_queue"`
}

// Route applies the confidence threshold. The boundary is inclusive: a
// suggestion at exactly the threshold is auto-surfaced.
func Route(confidence, threshold float64) Routing {
	if confidence >= threshold {
		return Routing{AutoSurface: true}
	}
	return Routing{RequiresApprovalQueue: true}
}
