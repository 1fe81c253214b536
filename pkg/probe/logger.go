package probe

import (
	"go.uber.org/zap"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/engine"
	"github.com/daviddao/levelsim/pkg/store"
)

// Logger logs every observable instant: a summary at info level, and the
// state of each level at debug level.
type Logger struct {
	logger *zap.Logger
}

// NewLogger returns a probe logging to logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

func (l *Logger) PrepareObservation() {
	l.logger.Debug("observation started")
}

func (l *Logger) ObserveAtInitialTime(t clock.Time, sim engine.Observable) {
	l.observe(store.KindInitial, t, sim)
}

func (l *Logger) ObserveAtPartialConsistentTime(t clock.Time, sim engine.Observable) {
	l.observe(store.KindPartial, t, sim)
}

func (l *Logger) ObserveAtFinalTime(t clock.Time, sim engine.Observable) {
	l.observe(store.KindFinal, t, sim)
}

func (l *Logger) ReactToAbortion(t clock.Time, _ engine.Observable) {
	l.logger.Warn("simulation aborted", zap.Stringer("time", t))
}

func (l *Logger) ReactToError(message string, cause error) {
	l.logger.Error("simulation error", zap.String("message", message), zap.Error(cause))
}

func (l *Logger) EndObservation() {
	l.logger.Debug("observation ended")
}

func (l *Logger) observe(kind store.ObservationKind, t clock.Time, sim engine.Observable) {
	obs := Snapshot("", kind, t, sim)

	var reacted []string
	for _, o := range obs {
		if o.Consistent {
			reacted = append(reacted, string(o.Level))
		}
	}
	l.logger.Info("observation",
		zap.String("kind", string(kind)),
		zap.Stringer("time", t),
		zap.Strings("consistent", reacted),
		zap.Int("agents", len(sim.Agents())),
	)

	for _, o := range obs {
		l.logger.Debug("level",
			zap.String("level", string(o.Level)),
			zap.Bool("consistent", o.Consistent),
			zap.Stringer("lower", o.Lower),
			zap.Stringer("upper", o.Upper),
			zap.Int("agents", o.Agents),
			zap.Int("backlog", o.Backlog),
		)
	}
}
