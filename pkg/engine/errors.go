package engine

import "github.com/iotaledger/hive.go/ierrors"

// Every error returned by Run wraps exactly one of these.
var (
	// ErrConfiguration reports an inconsistent simulation setup: missing or
	// duplicate levels, environment states or agents, nil perceived data,
	// influences addressed to unknown or non-influenceable levels, or time
	// models that do not move forward.
	ErrConfiguration = ierrors.New("configuration error")

	// ErrProtocol reports a system influence the kernel cannot apply.
	ErrProtocol = ierrors.New("protocol error")

	// ErrDomain reports an error returned, or a panic raised, by a level,
	// agent, environment or domain hook.
	ErrDomain = ierrors.New("domain error")

	// ErrAlreadyRunning is returned when Run is called on a running engine,
	// or when probes are changed while it runs.
	ErrAlreadyRunning = ierrors.New("engine already running")
)

func configErrorf(format string, args ...any) error {
	return ierrors.Wrapf(ErrConfiguration, format, args...)
}

func protocolErrorf(format string, args ...any) error {
	return ierrors.Wrapf(ErrProtocol, format, args...)
}

// domainError keeps both the ErrDomain classification and the hook's error
// in the chain.
func domainError(err error, format string, args ...any) error {
	return ierrors.Errorf("%w: "+format+": %w", append(append([]any{ErrDomain}, args...), err)...)
}
