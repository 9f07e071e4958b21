package stage

import "errors"

var (
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrNoTargetStage    = errors.New("no target stage")
	ErrInvalidTrigger   = errors.New("invalid stage trigger")
	ErrTargetConflict   = errors.New("stage triggers resolve to different target stages")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrSameStage        = errors.New("source and target stage are the same")
	ErrStageIDRequired  = errors.New("stage_id is required")
)

// IsInvalidTrigger reports whether err is a trigger configuration error.
func IsInvalidTrigger(err error) bool {
	return errors.Is(err, ErrInvalidTrigger) || errors.Is(err, ErrTargetConflict)
}
