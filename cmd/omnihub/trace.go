package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// newTraceCmd queries the trace API of a running hub.
func newTraceCmd() *cobra.Command {
	var apiURL, token string

	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect message traces",
	}
	traceCmd.PersistentFlags().StringVar(&apiURL, "api", "http://127.0.0.1:8882", "hub API base URL")
	traceCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("OMNIHUB_TOKEN"), "API token")

	getCmd := &cobra.Command{
		Use:   "get <trace-id>",
		Short: "Show one trace with its stage log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fetchJSON(apiURL+"/api/traces/"+url.PathEscape(args[0]), token, cmd.OutOrStdout()); err != nil {
				return err
			}
			return fetchJSON(apiURL+"/api/traces/"+url.PathEscape(args[0])+"/stages", token, cmd.OutOrStdout())
		},
	}

	var instanceName, status, sender string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if instanceName != "" {
				q.Set("instance", instanceName)
			}
			if status != "" {
				q.Set("status", status)
			}
			if sender != "" {
				q.Set("sender", sender)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			endpoint := apiURL + "/api/traces"
			if encoded := q.Encode(); encoded != "" {
				endpoint += "?" + encoded
			}
			return fetchJSON(endpoint, token, cmd.OutOrStdout())
		},
	}
	listCmd.Flags().StringVar(&instanceName, "instance", "", "filter by instance name")
	listCmd.Flags().StringVar(&status, "status", "", "filter by status")
	listCmd.Flags().StringVar(&sender, "sender", "", "filter by sender identifier")
	listCmd.Flags().IntVar(&limit, "limit", 0, "maximum results")

	traceCmd.AddCommand(getCmd, listCmd)
	return traceCmd
}

func fetchJSON(endpoint, token string, out io.Writer) error {
	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, body)
	}

	var pretty json.RawMessage = body
	var buf map[string]any
	if err := json.Unmarshal(body, &buf); err == nil {
		if formatted, err := json.MarshalIndent(buf, "", "  "); err == nil {
			pretty = formatted
		}
	} else {
		var list []any
		if err := json.Unmarshal(body, &list); err == nil {
			if formatted, err := json.MarshalIndent(list, "", "  "); err == nil {
				pretty = formatted
			}
		}
	}
	fmt.Fprintln(out, string(pretty))
	return nil
}
