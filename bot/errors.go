package bot

import "errors"

// ErrNotConfigured means the user has no bot configuration; start() cannot
// proceed without one.
var ErrNotConfigured = errors.New("bot not configured")

// ErrSessionRunning is returned by the registry when a second session is
// started for a user who already has an active one.
var ErrSessionRunning = errors.New("session already running")

// ErrNoSession is returned by the registry for operations on a user with no
// active session.
var ErrNoSession = errors.New("no active session")
