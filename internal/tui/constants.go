package tui

import "time"

// Package-level constants to avoid magic numbers and improve readability.
const (
	channelBufferSize    = 256
	countdownTickSeconds = 1
	rightViewportMax     = 90
	// liveNotesMax caps how many live notification lines are drawn.
	liveNotesMax = 4
	// historyHeight is the notification history list height.
	historyHeight = 10

	countdownTickInterval = time.Duration(countdownTickSeconds) * time.Second
)
