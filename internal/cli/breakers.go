package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"HookGuard/internal/service"
	"HookGuard/pkg/httpclient"

	"github.com/spf13/cobra"
)

type adminOptions struct {
	server   string
	token    string
	proxy    string
	timeout  time.Duration
	operator string
	output   string
}

func newBreakersCmd() *cobra.Command {
	o := &adminOptions{}
	cmd := &cobra.Command{
		Use:   "breakers",
		Short: "Inspect and reset circuit breakers through the admin API",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&o.server, "server", "http://127.0.0.1:8080", "HookGuard HTTP address")
	pf.StringVar(&o.token, "token", envDefault("ADMIN_TOKEN", "HOOKGUARD_SERVER_ADMIN_TOKEN"), "Admin token (default $ADMIN_TOKEN)")
	pf.StringVar(&o.proxy, "proxy", "", "Proxy URL (socks5, http or https)")
	pf.DurationVar(&o.timeout, "timeout", 10*time.Second, "Request timeout")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every breaker record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBreakersList(cmd, o)
		},
	}
	list.Flags().StringVarP(&o.output, "output", "o", "table", "Output format (table|json)")

	reset := &cobra.Command{
		Use:   "reset <tenant> <service>",
		Short: "Force a breaker back to CLOSED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBreakersReset(cmd, o, args[0], args[1])
		},
	}
	reset.Flags().StringVar(&o.operator, "operator", envDefault("USER"), "Operator recorded in the audit log")

	cmd.AddCommand(list, reset)
	return cmd
}

func runBreakersList(cmd *cobra.Command, o *adminOptions) error {
	body, err := adminCall(o, http.MethodGet, "/v1/breakers", nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if o.output == "json" {
		_, err = out.Write(append(body, '\n'))
		return err
	}

	var list service.BreakerList
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("decode breaker list: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tSERVICE\tSTATE\tFAILURES\tEXECUTIONS\tLAST ERROR")
	for _, b := range list.Breakers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			b.TenantID, b.Service, b.State, b.ConsecutiveFailures, b.TotalExecutions, b.LastError)
	}
	return tw.Flush()
}

func runBreakersReset(cmd *cobra.Command, o *adminOptions, tenant, svc string) error {
	q := url.Values{}
	q.Set("tenant", tenant)
	q.Set("service", svc)
	headers := map[string]string{}
	if o.operator != "" {
		headers[service.OperatorHeader] = o.operator
	}
	if _, err := adminCall(o, http.MethodPost, "/v1/breakers/reset?"+q.Encode(), headers); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "breaker %s:%s reset to CLOSED\n", tenant, svc)
	return nil
}

// adminCall sends one admin request and returns the body of a 2xx reply.
func adminCall(o *adminOptions, method, path string, headers map[string]string) ([]byte, error) {
	client, err := httpclient.New(o.proxy, o.timeout)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, strings.TrimRight(o.server, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read admin reply: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &e) == nil && e.Reason != "" {
			return nil, fmt.Errorf("admin API returned %d %s: %s", resp.StatusCode, e.Reason, e.Message)
		}
		return nil, fmt.Errorf("admin API returned %d", resp.StatusCode)
	}
	return body, nil
}
