package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		reconnect bool
		count     int
	)

	cmd := &cobra.Command{
		Use:   "watch <event>...",
		Short: "Print pushed events as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var (
				mu       sync.Mutex
				seen     int
				writeErr error
			)

			out := cmd.OutOrStdout()

			for _, event := range args {
				unsubscribe := client.Subscribe(event, func(payload json.RawMessage) {
					line, err := eventLine(event, payload)

					mu.Lock()
					defer mu.Unlock()

					if count > 0 && seen >= count {
						return
					}

					if err == nil {
						_, err = fmt.Fprintf(out, "%s\n", line)
					}

					if err != nil {
						writeErr = err
						cancel()

						return
					}

					seen++
					if count > 0 && seen >= count {
						cancel()
					}
				})
				defer unsubscribe()
			}

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect to %s: %w", a.cfg.Gateway.URL, err)
			}

			a.logger.Info("watching events", "events", args)

			err = watchLoop(ctx, a, client, reconnect)

			mu.Lock()
			defer mu.Unlock()

			if writeErr != nil {
				return writeErr
			}

			return err
		},
	}

	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "Reconnect with backoff when the connection drops")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events (0 means no limit)")

	return cmd
}

// watchLoop blocks until ctx ends or the connection is lost for good.
func watchLoop(ctx context.Context, a *app, client *ws.Client, reconnect bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Disconnected():
		}

		if ctx.Err() != nil {
			return nil
		}

		if !reconnect {
			return errors.New("connection to gateway lost")
		}

		a.logger.Warn("connection lost, reconnecting")

		if err := client.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("reconnect: %w", err)
		}

		a.logger.Info("reconnected to gateway")
	}
}
