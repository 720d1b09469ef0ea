package session

import "errors"

// ErrUnknownSession is returned by BeginOrAttach when a non-empty session id
// hint does not resolve to a tracked session. The HTTP-specific 404 is
// applied by the Streamable-HTTP adapter, which is the layer that knows
// about HTTP.
var ErrUnknownSession = errors.New("session: unknown session id")

// ErrSessionScopeMismatch is returned by ApplyOverrides when extra_cli_args
// or env changes are requested against a session that shares a process-wide
// child with other sessions.
var ErrSessionScopeMismatch = errors.New("session: per-session runtime overrides are not supported for a shared upstream child")
