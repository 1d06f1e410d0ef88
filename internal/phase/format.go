package phase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Display strings shared between phase and message recognisers.
const (
	MsgNotInServer = "User not found in game - join the game and try again"
	MsgQueued      = "Queued for scan"
	MsgUserFound   = "User found in game!"
	MsgBotJoined   = "Bot joined server - scanning inventory..."
	MsgRetrying    = "Retrying scan..."
	MsgAddedQueue  = "Added to scan queue"
	MsgScanning    = "Scanning..."
)

//nolint:gochecknoglobals // compiled once.
var (
	positionPattern = regexp.MustCompile(`(?i)position\D*?(\d+)`)
	delayPattern    = regexp.MustCompile(`(?i)expected delay:\s*(\d+(?:\.\d+)?)`)
)

// FormatProgressMessage renders a progress line for a scan.
//
// Order: fixed phase table, then message classification, then "Scanning: {message}",
// then "Scanning... {progress}%", then "Scanning...". The phase always wins over the
// message, and progress is only consulted when neither produced a string.
func FormatProgressMessage(p Phase, message string, progress *float64) string {
	if s, ok := fromPhase(p, message); ok {
		return s
	}
	if Present(message) {
		return fromMessage(strings.TrimSpace(message))
	}
	if progress != nil {
		return fmt.Sprintf("Scanning... %s%%", formatNumber(*progress))
	}
	return MsgScanning
}

func fromPhase(p Phase, message string) (string, bool) {
	switch p {
	case FailedNotInServer:
		return MsgNotInServer, true
	case Queued:
		return queuedMessage(message), true
	case UserFound:
		return MsgUserFound, true
	case BotJoined:
		return MsgBotJoined, true
	case Retrying:
		return MsgRetrying, true
	default:
		return "", false
	}
}

func fromMessage(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "user found"):
		return MsgUserFound
	case strings.Contains(lower, "bot joined server"):
		return MsgBotJoined
	case strings.Contains(lower, "added to queue"):
		return MsgAddedQueue
	default:
		return "Scanning: " + message
	}
}

func queuedMessage(message string) string {
	position, ok := QueuePosition(message)
	if !ok {
		return MsgQueued
	}
	if delay, ok := expectedDelay(message); ok {
		return fmt.Sprintf("%s - Position %d (~%ss)", MsgQueued, position, delay)
	}
	return fmt.Sprintf("%s - Position %d", MsgQueued, position)
}

// QueuePosition extracts the first integer after "position" in a free-text message.
func QueuePosition(message string) (int, bool) {
	m := positionPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// expectedDelay returns the number after "expected delay:" exactly as written by the remote.
func expectedDelay(message string) (string, bool) {
	m := delayPattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FormatActiveButtonLabel renders the short label shown on the scan trigger while a job is active.
func FormatActiveButtonLabel(p Phase, message string) string {
	switch p {
	case Connecting:
		return "Connecting..."
	case Requested:
		return "Requesting..."
	case Retrying:
		return "Retrying..."
	case Queued:
		if n, ok := QueuePosition(message); ok {
			return fmt.Sprintf("Queued (#%d)", n)
		}
		return "Queued..."
	case UserFound:
		return "User Found"
	case BotJoined:
		return "Bot Joined"
	case Scanning:
		return MsgScanning
	case Completed:
		return "Scan Complete"
	case FailedNotInServer:
		return "Not In Game"
	case Error:
		return "Scan Failed"
	default:
		return MsgScanning
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
