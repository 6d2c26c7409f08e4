package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"HookGuard/internal/biz"

	"github.com/spf13/cobra"
)

type signOptions struct {
	secret    string
	algorithm string
	timestamp string
}

func newSignCmd() *cobra.Command {
	o := &signOptions{}
	cmd := &cobra.Command{
		Use:   "sign [payload-file|-]",
		Short: "Sign a payload and print the webhook headers",
		Long:  "Computes hex(HMAC(secret, timestamp + \".\" + body)) over the payload read from a file\nor stdin and prints the timestamp and signature headers a sender must attach.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(cmd, args, o)
		},
	}
	cmd.Flags().StringVarP(&o.secret, "secret", "s", envDefault("WEBHOOK_SECRET"), "Shared secret (default $WEBHOOK_SECRET)")
	cmd.Flags().StringVarP(&o.algorithm, "algorithm", "a", "sha256", "HMAC algorithm (sha256|sha512|sha1)")
	cmd.Flags().StringVarP(&o.timestamp, "timestamp", "t", "", "Unix timestamp to sign (default now)")
	return cmd
}

func runSign(cmd *cobra.Command, args []string, o *signOptions) error {
	if o.secret == "" {
		return errors.New("a secret is required (--secret or WEBHOOK_SECRET)")
	}
	newHash, err := biz.HashFunc(o.algorithm)
	if err != nil {
		return err
	}
	body, err := readBody(cmd, args)
	if err != nil {
		return err
	}
	ts := o.timestamp
	if ts == "" {
		ts = strconv.FormatInt(time.Now().Unix(), 10)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "X-Webhook-Timestamp: %s\n", ts)
	fmt.Fprintf(out, "X-Webhook-Signature: %s\n", biz.ComputeSignature(newHash, []byte(o.secret), ts, body))
	return nil
}
