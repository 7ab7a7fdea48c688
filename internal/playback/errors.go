package playback

import "errors"

var (
	// ErrNoResults means the resolver produced nothing for the request.
	ErrNoResults = errors.New("no results found")

	// ErrDurationLimit means the resolved item exceeds the configured
	// duration ceiling.
	ErrDurationLimit = errors.New("duration limit exceeded")

	// ErrNotPlaying means the operation needs an active session.
	ErrNotPlaying = errors.New("nothing is playing")

	// ErrAlreadyPaused / ErrNotPaused guard the pause toggle.
	ErrAlreadyPaused = errors.New("already paused")
	ErrNotPaused     = errors.New("not paused")

	// ErrClosed means the controller is shutting down.
	ErrClosed = errors.New("playback controller closed")
)
