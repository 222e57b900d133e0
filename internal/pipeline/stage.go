package pipeline

import "fmt"

// Stage is one phase of a pipeline run.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageChecking    Stage = "checking_prerequisites"
	StagePreparing   Stage = "preparing"
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageBuilding    Stage = "building"
	StageArchiving   Stage = "archiving"
	StageInstalling  Stage = "installing"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

// IsTerminal reports whether the stage is terminal; a new run always starts
// from Idle, never resumes a terminal one.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed
}

// transition validates a stage move. The caller supplies the expected prior
// stage so out-of-order driving is observable as a defect rather than silent
// state corruption.
func transition(current, from, to Stage) error {
	if current != from {
		return fmt.Errorf("invalid transition: expected stage %s, got %s", from, current)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	return nil
}

func isAllowedTransition(from, to Stage) bool {
	if from.IsTerminal() {
		return false
	}
	// Any unrecovered error fails the run from any live stage.
	if to == StageFailed {
		return true
	}
	switch from {
	case StageIdle:
		return to == StageChecking
	case StageChecking:
		return to == StagePreparing
	case StagePreparing:
		return to == StageDownloading
	case StageDownloading:
		return to == StageExtracting
	case StageExtracting:
		return to == StageBuilding
	case StageBuilding:
		return to == StageArchiving
	case StageArchiving:
		// Installing is optional: build-only runs complete here.
		return to == StageInstalling || to == StageComplete
	case StageInstalling:
		return to == StageComplete
	default:
		return false
	}
}
