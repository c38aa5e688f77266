package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// The runner subcommands talk to a running control plane; they are remote
// controls, not a second implementation of the proxy.
func (a *app) runnerCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Interact with the runner event proxy of a running control plane",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8090", "control plane base URL")

	var flow, tenant, team, user, payload string
	emit := &cobra.Command{
		Use:   "emit",
		Short: "Emit a synthesized runner activity event",
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc any
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &doc); err != nil {
					return fmt.Errorf("invalid --payload JSON: %w", err)
				}
			}
			body, err := json.Marshal(map[string]any{
				"flow": flow, "tenant": tenant, "team": team, "user": user, "payload": doc,
			})
			if err != nil {
				return err
			}
			return a.controlPlane(serverURL, http.MethodPost, "/runner/emit", body)
		},
	}
	emit.Flags().StringVar(&flow, "flow", "", "flow name (required)")
	emit.Flags().StringVar(&tenant, "tenant", "", "tenant")
	emit.Flags().StringVar(&team, "team", "", "team")
	emit.Flags().StringVar(&user, "user", "", "user")
	emit.Flags().StringVar(&payload, "payload", "", "input payload as JSON")
	_ = emit.MarkFlagRequired("flow")

	events := &cobra.Command{
		Use:   "events",
		Short: "List the retained runner events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.controlPlane(serverURL, http.MethodGet, "/runner/events", nil)
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Clear the retained runner events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.controlPlane(serverURL, http.MethodDelete, "/runner/events", nil)
		},
	}

	cmd.AddCommand(emit, events, clear)
	return cmd
}

func (a *app) controlPlane(base, method, path string, body []byte) error {
	target, err := url.JoinPath(base, path)
	if err != nil {
		return fmt.Errorf("bad server URL: %w", err)
	}
	req, err := http.NewRequest(method, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("control plane request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control plane returned %s: %s", resp.Status, data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		fmt.Println(string(data))
		return nil
	}
	return printJSON(doc)
}
