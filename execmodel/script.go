package execmodel

import "time"

// ScriptType distinguishes the author of a script version.
type ScriptType string

const (
	// ScriptPlanner marks a script authored by the planning agent. Planner
	// saves bump MajorVersion and reset MinorVersion to zero.
	ScriptPlanner ScriptType = "planner"
	// ScriptMaintainer marks a script authored by the maintainer agent during
	// maintenance mode. Maintainer saves bump MinorVersion only.
	ScriptMaintainer ScriptType = "maintainer"
)

// Script is one version of the code for a workflow.
type Script struct {
	ID            string
	WorkflowID    string
	MajorVersion  int
	MinorVersion  int
	Code          string
	HandlerConfig []byte
	Summary       string
	Diagram       string
	ChangeComment string
	Type          ScriptType
	CreatedAt     time.Time
}

// NextVersion computes the (major, minor) pair for a new script save given
// the previous script (zero value for the first save of a workflow).
func NextVersion(prev Script, t ScriptType) (major, minor int) {
	switch t {
	case ScriptPlanner:
		return prev.MajorVersion + 1, 0
	case ScriptMaintainer:
		if prev.MajorVersion == 0 {
			// First save of a workflow is always a planner save in practice,
			// but guard against a bare maintainer save on an empty workflow.
			return 1, prev.MinorVersion + 1
		}
		return prev.MajorVersion, prev.MinorVersion + 1
	default:
		return prev.MajorVersion, prev.MinorVersion
	}
}
