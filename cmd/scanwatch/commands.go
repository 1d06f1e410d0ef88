package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	api "github.com/ensigniasec/scanwatch/internal/api"
	"github.com/ensigniasec/scanwatch/internal/config"
	"github.com/ensigniasec/scanwatch/internal/notify"
	"github.com/ensigniasec/scanwatch/internal/phase"
	"github.com/ensigniasec/scanwatch/internal/storage"
	"github.com/ensigniasec/scanwatch/internal/tui"
	"github.com/ensigniasec/scanwatch/internal/watch"
)

// errScanFailed marks a watch that ended in a failed terminal phase.
var errScanFailed = errors.New("scan failed")

//nolint:gochecknoglobals // Cobra command is defined at package scope in current structure.
var watchCmd = &cobra.Command{
	Use:   "watch [USER_ID]",
	Short: "Watch a scan job until it completes. [Defaults to the last watched user]",
	Long: "Follow the scan job for USER_ID through queueing, bot join and scanning. " +
		"Without USER_ID the last watched user is resumed if their scan had not finished.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage()
		if err != nil {
			return err
		}
		userID, err := resolveUser(st, args)
		if err != nil {
			return err
		}
		client, err := newClient(st)
		if err != nil {
			return err
		}

		var (
			sink    notify.Sink = notify.LogSink{Logger: logrus.StandardLogger()}
			tuiSink *tui.Sink
		)
		if tuiMode {
			tuiSink = tui.NewSink()
			sink = tuiSink
		}

		var stMu sync.Mutex
		sess := watch.New(client, watch.Options{
			UserID:           userID,
			Stream:           cfg.Transport == config.TransportStream,
			StatusInterval:   cfg.Polling.StatusInterval,
			PositionInterval: cfg.Polling.PositionInterval,
			QueueInterval:    cfg.Polling.QueueInterval,
			OnlineInterval:   cfg.Polling.OnlineInterval,
			MaxRetries:       cfg.Polling.MaxRetries,
			RetryDelay:       cfg.Polling.RetryDelay,
			Notifier:         notify.New(sink),
			OnPhase: func(p phase.Phase) {
				stMu.Lock()
				defer stMu.Unlock()
				if err := st.RecordPhase(p, time.Now()); err != nil {
					logrus.WithError(err).Debug("could not persist phase")
				}
			},
		})

		ctx := cmd.Context()
		switch {
		case tuiMode:
			err = tui.Run(ctx, sess, tuiSink)
		case jsonOutput:
			err = runPrinted(ctx, sess, jsonPrinter(os.Stdout))
		default:
			err = runPrinted(ctx, sess, plainPrinter(os.Stdout))
		}
		if errors.Is(err, context.Canceled) {
			logrus.Info("watch interrupted")
			return nil
		}
		if err != nil {
			return err
		}
		return scanOutcome(sess.Snapshot())
	},
}

// resolveUser picks the explicit argument or resumes the stored user.
func resolveUser(st *storage.Storage, args []string) (string, error) {
	if len(args) == 1 {
		userID := strings.TrimSpace(args[0])
		if err := st.SetLastUser(userID, time.Now()); err != nil {
			return "", fmt.Errorf("invalid user id %q: %w", args[0], err)
		}
		return userID, nil
	}
	if !st.Resumable() {
		return "", errors.New("no USER_ID given and no unfinished scan to resume")
	}
	logrus.WithField("user_id", st.Data.LastUserID).Info("resuming last watched user")
	return st.Data.LastUserID, nil
}

// scanOutcome turns a failed terminal phase into a non-zero exit.
func scanOutcome(s watch.Snapshot) error {
	if s.HasSignal && s.Signal.Phase.Failed() {
		return fmt.Errorf("%w: %s", errScanFailed, s.Message)
	}
	return nil
}

//nolint:gochecknoglobals // Cobra command is defined at package scope in current structure.
var positionCmd = &cobra.Command{
	Use:   "position USER_ID",
	Short: "Show a user's position in the scan queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientWithStorage()
		if err != nil {
			return err
		}
		pos, err := client.QueuePosition(cmd.Context(), args[0])
		queued := err == nil
		if err != nil && !api.IsNotQueued(err) {
			return err
		}
		if jsonOutput {
			out := struct {
				UserID   string `json:"user_id"`
				Queued   bool   `json:"queued"`
				Position int    `json:"position,omitempty"`
			}{UserID: args[0], Queued: queued, Position: pos}
			return json.NewEncoder(os.Stdout).Encode(out)
		}
		if !queued {
			fmt.Fprintln(os.Stdout, "Not in queue")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Position %d\n", pos)
		return nil
	},
}

//nolint:gochecknoglobals // Cobra command is defined at package scope in current structure.
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the scan queue length and the most recent dequeue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := clientWithStorage()
		if err != nil {
			return err
		}
		info, err := client.BotStatus(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(info)
		}
		fmt.Fprintf(os.Stdout, "Queue length: %d\n", info.QueueLength)
		if d := info.LastDequeue; d != nil {
			fmt.Fprintf(os.Stdout, "Last dequeue: %s at %s\n", d.UserID, d.Time().Format(time.RFC3339))
		}
		return nil
	},
}

//nolint:gochecknoglobals // Cobra command is defined at package scope in current structure.
var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List users currently online in the game",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := clientWithStorage()
		if err != nil {
			return err
		}
		users, err := client.OnlineUsers(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			if users == nil {
				users = []api.OnlineUser{}
			}
			return json.NewEncoder(os.Stdout).Encode(users)
		}
		if len(users) == 0 {
			fmt.Fprintln(os.Stdout, "No users online")
			return nil
		}
		for _, u := range users {
			fmt.Fprintf(os.Stdout, "%s\t%s\n", u.UserID, u.Username)
		}
		return nil
	},
}

func clientWithStorage() (*api.Client, error) {
	st, err := openStorage()
	if err != nil {
		return nil, err
	}
	return newClient(st)
}

//nolint:gochecknoglobals // Cobra command is defined at package scope in current structure.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the remembered user for resumed watches",
}

//nolint:gochecknoglobals // Cobra command is defined at package scope in current structure.
var userSetCmd = &cobra.Command{
	Use:   "set USER_ID",
	Short: "Remember USER_ID for the next watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage()
		if err != nil {
			return err
		}
		if err := st.SetLastUser(args[0], time.Now()); err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[0], err)
		}
		fmt.Fprintf(os.Stdout, "User set to %s\n", st.Data.LastUserID)
		return nil
	},
}

//nolint:gochecknoglobals // Cobra command is defined at package scope in current structure.
var userShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the remembered user (if any)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStorage()
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(st.Data)
		}
		if st.Data.LastUserID == "" {
			fmt.Fprintln(os.Stdout, "No user set")
			return nil
		}
		fmt.Fprintln(os.Stdout, st.Data.LastUserID)
		if st.Data.LastPhase != "" {
			fmt.Fprintf(os.Stdout, "Last phase: %s\n", st.Data.LastPhase)
		}
		return nil
	},
}

//nolint:gochecknoglobals // Cobra command is defined at package scope in current structure.
var userClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the remembered user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStorage()
		if err != nil {
			return err
		}
		if err := st.ClearUser(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "User cleared")
		return nil
	},
}
