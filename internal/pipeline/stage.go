package pipeline

// Stage is a step of the per-table state machine:
// DISCOVER → ENSURE_SCHEMA → EXPORT → LOAD_STAGING → SWAP → DONE, and any → FAILED.
type Stage int

const (
	StageDiscover Stage = iota
	StageEnsureSchema
	StageExport
	StageLoadStaging
	StageSwap
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageDiscover:
		return "DISCOVER"
	case StageEnsureSchema:
		return "ENSURE_SCHEMA"
	case StageExport:
		return "EXPORT"
	case StageLoadStaging:
		return "LOAD_STAGING"
	case StageSwap:
		return "SWAP"
	case StageDone:
		return "DONE"
	case StageFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
