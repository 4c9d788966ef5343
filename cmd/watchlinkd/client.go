package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/watchlink/internal/config"
	"github.com/spf13/cobra"
)

// apiClient talks to a running daemon's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string, timeout time.Duration) *apiClient {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &apiClient{base: base, http: &http.Client{Timeout: timeout}}
}

// do sends body as JSON and decodes a JSON reply into out. Non-2xx replies
// become errors carrying the server's message.
func (c *apiClient) do(method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %d", method, path, resp.StatusCode)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type clientFlags struct {
	addr    string
	timeout time.Duration
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "api", config.DefaultAPIAddr, "daemon API address")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "request timeout")
}

func (f *clientFlags) client() *apiClient {
	return newAPIClient(f.addr, f.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := flags.client().do(http.MethodGet, "/status", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	flags.bind(cmd)
	return cmd
}

func connectCmd() *cobra.Command {
	var flags clientFlags
	var name, address string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a watch by name or address",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"name": name, "address": address}
			if err := flags.client().do(http.MethodPost, "/connect", body, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "connecting")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "device name")
	cmd.Flags().StringVar(&address, "address", "", "bluetooth address or host:port")
	flags.bind(cmd)
	return cmd
}

func disconnectCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Drop the link and forget the watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.client().do(http.MethodPost, "/disconnect", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "disconnecting")
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func pingCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping the watch through the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Cookie uint32 `json:"cookie"`
				RTT    string `json:"rtt"`
			}
			if err := flags.client().do(http.MethodPost, "/ping", nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong cookie=%d rtt=%s\n", out.Cookie, out.RTT)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func notifyCmd() *cobra.Command {
	var flags clientFlags
	var sender, subject string
	cmd := &cobra.Command{
		Use:       "notify <sms|email|facebook|twitter> <body>",
		Short:     "Show a notification on the watch",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"sms", "email", "facebook", "twitter"},
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"sender": sender, "subject": subject, "body": args[1]}
			if err := flags.client().do(http.MethodPost, "/notifications/"+args[0], body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "watchlinkd", "sender shown on the watch")
	cmd.Flags().StringVar(&subject, "subject", "", "email subject")
	flags.bind(cmd)
	return cmd
}
