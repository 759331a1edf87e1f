package kvserver

import (
	"errors"

	"github.com/kstaniek/kvd/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen  = errors.New("listen")
	ErrAccept  = errors.New("accept")
	ErrDecode  = errors.New("decode")
	ErrApply   = errors.New("apply")
	ErrContext = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics stage labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrDecode):
		return metrics.StageDecode
	case errors.Is(err, ErrApply):
		return metrics.StageApply
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return "listen"
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
