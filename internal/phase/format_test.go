package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatProgressMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		phase    Phase
		message  string
		progress *float64
		want     string
	}{
		{
			name:    "queued with position and delay",
			phase:   Queued,
			message: "Added to queue - position: 4, expected delay: 12.5",
			want:    "Queued for scan - Position 4 (~12.5s)",
		},
		{
			name:    "queued with position only",
			phase:   Queued,
			message: "position in queue: 7",
			want:    "Queued for scan - Position 7",
		},
		{
			name:    "queued without position",
			phase:   Queued,
			message: "Added to queue",
			want:    "Queued for scan",
		},
		{
			name:    "queued delay without position is ignored",
			phase:   Queued,
			message: "expected delay: 30",
			want:    "Queued for scan",
		},
		{
			name:     "not in server ignores message and progress",
			phase:    FailedNotInServer,
			message:  "position: 3",
			progress: Percent(80),
			want:     MsgNotInServer,
		},
		{name: "user found phase", phase: UserFound, message: "whatever", want: MsgUserFound},
		{name: "bot joined phase", phase: BotJoined, want: MsgBotJoined},
		{name: "retrying phase", phase: Retrying, message: "attempt 2", want: MsgRetrying},
		{name: "message user found", message: "User found in game!", want: MsgUserFound},
		{name: "message bot joined", message: "BOT JOINED SERVER us-east-2", want: MsgBotJoined},
		{name: "message added to queue", message: "Added to queue", want: MsgAddedQueue},
		{name: "unmatched phase uses message", phase: Scanning, message: "Reading trades", want: "Scanning: Reading trades"},
		{name: "generic message", message: "  Counting items  ", want: "Scanning: Counting items"},
		{name: "progress only", progress: Percent(42), want: "Scanning... 42%"},
		{name: "fractional progress", progress: Percent(42.5), want: "Scanning... 42.5%"},
		{name: "whitespace message falls back to progress", message: "   ", progress: Percent(10), want: "Scanning... 10%"},
		{name: "unmatched phase with progress", phase: Scanning, progress: Percent(63), want: "Scanning... 63%"},
		{name: "unknown phase tag", phase: Phase("warming_up"), want: MsgScanning},
		{name: "nothing", want: MsgScanning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FormatProgressMessage(tt.phase, tt.message, tt.progress))
		})
	}
}

func TestFormatProgressMessage_Idempotent(t *testing.T) {
	t.Parallel()

	signals := []Signal{
		{Phase: Queued, Message: "position: 2, expected delay: 5"},
		{Message: "bot joined server"},
		{Progress: Percent(99)},
		{},
	}
	for _, s := range signals {
		first := s.ProgressMessage()
		for range 5 {
			assert.Equal(t, first, s.ProgressMessage())
		}
	}
}

func TestFormatActiveButtonLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phase   Phase
		message string
		want    string
	}{
		{Connecting, "", "Connecting..."},
		{Requested, "", "Requesting..."},
		{Retrying, "", "Retrying..."},
		{Queued, "position: 12", "Queued (#12)"},
		{Queued, "", "Queued..."},
		{UserFound, "", "User Found"},
		{BotJoined, "", "Bot Joined"},
		{Scanning, "", "Scanning..."},
		{Completed, "", "Scan Complete"},
		{FailedNotInServer, "", "Not In Game"},
		{Error, "boom", "Scan Failed"},
		{Phase(""), "user found", "Scanning..."},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase)+"/"+tt.message, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FormatActiveButtonLabel(tt.phase, tt.message))
		})
	}
}

func TestPhaseTerminal(t *testing.T) {
	t.Parallel()

	for _, p := range All {
		assert.True(t, p.Valid(), p)
		switch p {
		case Completed, FailedNotInServer, Error:
			assert.True(t, p.Terminal(), p)
		default:
			assert.False(t, p.Terminal(), p)
		}
	}
	assert.False(t, Phase("nope").Valid())
	assert.True(t, Error.Failed())
	assert.False(t, Completed.Failed())
}

func TestPresent(t *testing.T) {
	t.Parallel()

	assert.True(t, Present("Scanning"))
	assert.True(t, Present("  x "))
	assert.False(t, Present(""))
	assert.False(t, Present(" \t\n"))
}
