package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/dialer"
	"outbound-dialer/internal/disposition"
	"outbound-dialer/internal/guard"
	"outbound-dialer/internal/guardclient"
	"outbound-dialer/internal/telephony"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Call every contact in a contacts file, one at a time",
		Long: `Runs a calling session over a YAML contacts file using the simulated
telephony adapter. Each contact is locked through the guard before dialing.
Connected calls are wrapped up after --talk with --outcome; calls that end
without connecting are recorded with their end reason as outcome.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flagOrViperString(cmd, "contacts", "contacts")
			if strings.TrimSpace(path) == "" {
				return errors.New("missing --contacts")
			}
			file, err := loadContacts(path)
			if err != nil {
				return err
			}
			statuses := flagOrViperStringSlice(cmd, "statuses", "statuses")
			if len(statuses) == 0 {
				statuses = file.EligibleStatuses
			}
			scripts, err := parseScripts(flagOrViperStringSlice(cmd, "scripts", "scripts"), len(file.Contacts))
			if err != nil {
				return err
			}

			log := cliLogger()
			g, err := buildGuard(cmd, log)
			if err != nil {
				return err
			}

			snap := dialer.BuildSnapshot(file.Contacts, eligibility(statuses))
			session, first, err := dialer.StartSnapshot(snap)
			if err != nil {
				return err
			}
			log.Info("session started", "contacts", snap.Len(), "first", first.ID, "caller_id", g.CallerID())

			ctrl := dialer.NewController(session, telephony.NewSimAdapter(scripts...), g, dialer.Options{
				DialTimeout: flagOrViperDuration(cmd, "dial-timeout", "dial_timeout"),
				Logger:      log,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go ctrl.Run(ctx)

			r := &runner{
				ctrl:    ctrl,
				out:     cmd.OutOrStdout(),
				log:     log,
				talk:    flagOrViperDuration(cmd, "talk", "talk"),
				pause:   flagOrViperDuration(cmd, "pause", "pause"),
				outcome: flagOrViperString(cmd, "outcome", "outcome"),
			}
			sum, err := r.loop(ctx)
			sum.print(cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().String("contacts", "", "YAML contacts file (required).")
	cmd.Flags().Bool("local", false, "Use an in-process guard instead of the API.")
	cmd.Flags().String("workspace", "local", "Workspace id for --local attempts.")
	cmd.Flags().Duration("cooldown", config.DefaultCooldown, "Per-contact cooldown for --local.")
	cmd.Flags().StringSlice("scripts", []string{"answered"}, "Simulated outcomes, cycled per contact: answered, busy, no-answer, silent, unreachable, failed.")
	cmd.Flags().StringSlice("statuses", nil, "Only call contacts whose status is listed.")
	cmd.Flags().Duration("talk", 2*time.Second, "How long a connected call lasts before wrap-up.")
	cmd.Flags().Duration("pause", 500*time.Millisecond, "Pause between calls.")
	cmd.Flags().String("outcome", "completed", "Outcome recorded for connected calls.")
	cmd.Flags().Duration("dial-timeout", dialer.DefaultDialTimeout, "Give up on a call that has not connected after this long.")

	return cmd
}

// buildGuard returns the API client, or an in-process guard for --local.
func buildGuard(cmd *cobra.Command, log *slog.Logger) (dialer.Guard, error) {
	if !flagOrViperBool(cmd, "local", "local") {
		return remoteClient()
	}
	caller := strings.TrimSpace(viper.GetString("caller-id"))
	if caller == "" {
		caller = "agent-local"
	}
	svc := guard.NewService(guard.NewMemoryStore(), guard.Options{
		Cooldown: flagOrViperDuration(cmd, "cooldown", "cooldown"),
		Logger:   log,
		Audit:    audit.NewService(audit.NewMemoryRepo()),
	})
	return guardclient.Local{
		Service:     svc,
		WorkspaceID: flagOrViperString(cmd, "workspace", "workspace"),
		Caller:      caller,
	}, nil
}

func eligibility(statuses []string) func(calls.Contact) bool {
	if len(statuses) == 0 {
		return nil
	}
	return dialer.StatusIn(statuses...)
}

var namedScripts = map[string]telephony.SimScript{
	"answered":    telephony.ScriptAnswered,
	"busy":        telephony.ScriptBusy,
	"no-answer":   telephony.ScriptNoAnswer,
	"silent":      telephony.ScriptSilent,
	"unreachable": {ConnectErr: calls.ErrNetworkUnavailable},
	"failed":      {ConnectErr: calls.ErrProviderConnect},
}

// parseScripts cycles names over n calls.
func parseScripts(names []string, n int) ([]telephony.SimScript, error) {
	if len(names) == 0 {
		names = []string{"answered"}
	}
	cycle := make([]telephony.SimScript, 0, len(names))
	for _, name := range names {
		s, ok := namedScripts[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown script %q", name)
		}
		cycle = append(cycle, s)
	}
	out := make([]telephony.SimScript, n)
	for i := range out {
		out[i] = cycle[i%len(cycle)]
	}
	return out, nil
}

// runner plays the agent: dial, wrap up, dial the next contact.
type runner struct {
	ctrl    *dialer.Controller
	out     io.Writer
	log     *slog.Logger
	talk    time.Duration
	pause   time.Duration
	outcome string
}

type runSummary struct {
	Dialed   int
	Skipped  int
	ByReason map[calls.EndReason]int
}

func (r *runner) loop(ctx context.Context) (runSummary, error) {
	sum := runSummary{ByReason: map[calls.EndReason]int{}}
	updates := r.ctrl.Updates()
	dialNext := make(chan struct{}, 1)
	wrapUp := make(chan string, 1)
	dialNext <- struct{}{}

	poke := func(ch chan struct{}) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := r.ctrl.Stop(stopCtx)
			cancel()
			return sum, err

		case <-dialNext:
			a, err := r.ctrl.Dial(ctx)
			switch {
			case err == nil:
				if a.ID != "" {
					sum.Dialed++
					fmt.Fprintf(r.out, "dialing %s %s (attempt %s)\n", a.ContactID, a.PhoneNumber, a.ID)
				}
			case errors.Is(err, calls.ErrInvalidNumber):
				// already sealed and advanced past
				fmt.Fprintf(r.out, "invalid number for %s: %v\n", a.ContactID, err)
			case errors.Is(err, calls.ErrDuplicateLock) || errors.Is(err, calls.ErrCooldown):
				cur, _ := r.ctrl.Session().Current()
				fmt.Fprintf(r.out, "skipping %s: %v\n", cur.ID, err)
				sum.Skipped++
				if _, _, err := r.ctrl.SkipCurrent(); err != nil {
					return sum, err
				}
			case errors.Is(err, dialer.ErrSessionInactive):
				return sum, nil
			default:
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				stopErr := r.ctrl.Stop(stopCtx)
				cancel()
				return sum, errors.Join(err, stopErr)
			}

		case id := <-wrapUp:
			if a, ok := r.ctrl.Current(); ok && a.ID == id && !a.Sealed() {
				r.dispose(ctx, a, r.outcome)
			}

		case u := <-updates:
			switch u.Kind {
			case dialer.UpdateState:
				fmt.Fprintf(r.out, "  %s %s", u.Contact.ID, u.State)
				if u.EndReason != "" {
					fmt.Fprintf(r.out, " (%s)", u.EndReason)
				}
				fmt.Fprintln(r.out)
				if u.State == calls.StateConnected && u.AttemptID != "" {
					id := u.AttemptID
					time.AfterFunc(r.talk, func() {
						select {
						case wrapUp <- id:
						default:
						}
					})
				}
				if u.State == calls.StateWrapUp {
					sum.ByReason[u.EndReason]++
					if a, ok := r.ctrl.Current(); ok && u.AttemptID != "" && a.ID == u.AttemptID && !disposition.AutoEligible(a) {
						r.dispose(ctx, a, strings.ToLower(string(a.EndReason)))
					}
				}
			case dialer.UpdateAdvanced:
				if u.Next.ID == "" {
					continue
				}
				if r.pause <= 0 {
					poke(dialNext)
					continue
				}
				time.AfterFunc(r.pause, func() { poke(dialNext) })
			case dialer.UpdateError:
				fmt.Fprintf(r.out, "  %s error: %v\n", u.Contact.ID, u.Err)
			case dialer.UpdateStopped:
				return sum, nil
			}
		}
	}
}

func (r *runner) dispose(ctx context.Context, a calls.CallAttempt, outcome string) {
	if a.ConnectedAt == nil && a.Sealed() {
		outcome = strings.ToLower(string(a.EndReason))
	}
	if _, _, err := r.ctrl.Dispose(ctx, a.ID, disposition.Disposition{Outcome: outcome}); err != nil {
		r.log.Error("disposition failed", "call_attempt_id", a.ID, "err", err)
		return
	}
	fmt.Fprintf(r.out, "  %s disposed: %s\n", a.ContactID, outcome)
}

func (s runSummary) print(w io.Writer) {
	reasons := make([]string, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "DIALED\t%d\n", s.Dialed)
	fmt.Fprintf(tw, "SKIPPED\t%d\n", s.Skipped)
	for _, r := range reasons {
		fmt.Fprintf(tw, "%s\t%d\n", r, s.ByReason[calls.EndReason(r)])
	}
	_ = tw.Flush()
}
