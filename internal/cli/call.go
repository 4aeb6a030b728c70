package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/openclaw-gateway/ws/pkg/ws"
)

func newCallCommand(a *app) *cobra.Command {
	var (
		timeout time.Duration
		field   string
		pretty  bool
	)

	cmd := &cobra.Command{
		Use:   "call <method> [params] [key=value...]",
		Short: "Send one request and print its result",
		Long: `Send one request and print the response body.

Params may be given as a JSON5 document and refined with key=value
assignments, where key is a dotted path:

  gatewayctl call chat.send '{sessionKey: "main"}' text="hello" meta.priority=2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, assignments, err := splitCallArgs(args[1:])
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

			var opts []ws.RequestOption
			if cmd.Flags().Changed("timeout") {
				opts = append(opts, ws.WithTimeout(timeout))
			}

			body, err := client.Request(cmd.Context(), args[0], params, opts...)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			body, err = selectField(body, field)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), body, pretty)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout (0 waits indefinitely)")
	cmd.Flags().StringVar(&field, "field", "", "Print only this path of the result")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the output")

	return cmd
}

func writeJSON(w io.Writer, body json.RawMessage, pretty bool) error {
	if len(body) == 0 {
		body = json.RawMessage("null")
	}

	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}

	_, err := fmt.Fprintf(w, "%s\n", body)

	return err
}
