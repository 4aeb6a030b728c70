package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws"
)

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// parseSchedule accepts five-field cron expressions, an optional leading
// seconds field, and descriptors such as @hourly or @every 30s.
func parseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	return sched, nil
}

func newScheduleCommand(a *app) *cobra.Command {
	var (
		maxRuns int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule <cron-expr> <method> [params] [key=value...]",
		Short: "Send a request on a cron schedule",
		Long: `Send the same request every time the schedule fires and print each
result as a JSON line. Runs never overlap; a run that is still waiting
when the next one is due makes that one skip.

  gatewayctl schedule '@every 1m' health
  gatewayctl schedule '0 9 * * 1-5' chat.send '{text: "standup"}'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := parseSchedule(args[0])
			if err != nil {
				return err
			}

			method := args[1]

			doc, assignments, err := splitCallArgs(args[2:])
			if err != nil {
				return err
			}

			params, err := BuildParams(doc, assignments)
			if err != nil {
				return err
			}

			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var (
				mu   sync.Mutex
				runs int
			)

			out := cmd.OutOrStdout()

			job := cron.FuncJob(func() {
				started := time.Now()

				// Request connects again after a dropped connection.
				body, err := client.Request(ctx, method, params, ws.WithTimeout(timeout))

				mu.Lock()
				defer mu.Unlock()

				runs++

				if err != nil {
					a.logger.Error("scheduled request failed", "method", method, "run", runs, "error", err)
				} else {
					a.logger.Debug("scheduled request done", "method", method, "run", runs,
						"elapsed", time.Since(started))

					if werr := writeJSON(out, body, false); werr != nil {
						a.logger.Error("failed to write result", "error", werr)
					}
				}

				if maxRuns > 0 && runs >= maxRuns {
					cancel()
				}
			})

			c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
			c.Schedule(sched, job)

			a.logger.Info("schedule started", "schedule", args[0], "method", method,
				"next", sched.Next(time.Now()).Format(time.RFC3339))

			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()

			return nil
		},
	}

	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "Stop after this many runs (0 means no limit)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout of each request (0 waits indefinitely)")

	return cmd
}
