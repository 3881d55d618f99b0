// Command tftp is a minimal GET/PUT client for the tftp package,
// built as a cobra subcommand tree over tftp.NewClient's
// Get/Put methods.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kcexn/tftp"
)

func main() {
	var host string
	var mode string

	root := &cobra.Command{
		Use:   "tftp",
		Short: "A RFC 1350 TFTP client",
	}
	root.PersistentFlags().StringVarP(&host, "host", "H", "", "TFTP server host[:port] (default port 69)")
	root.PersistentFlags().StringVar(&mode, "mode", "octet", "transfer mode: netascii, octet, or mail")
	_ = root.MarkPersistentFlagRequired("host")

	getCmd := &cobra.Command{
		Use:   "get <remote> <local>",
		Short: "Download remote file to local path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(host, mode, args[0], args[1])
		},
	}

	putCmd := &cobra.Command{
		Use:   "put <local> <remote>",
		Short: "Upload local file to remote path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(host, mode, args[0], args[1])
		},
	}

	root.AddCommand(getCmd, putCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseMode(s string) (tftp.TransferMode, error) {
	switch tftp.TransferMode(s) {
	case tftp.ModeNetASCII, tftp.ModeOctet, tftp.ModeMail:
		return tftp.TransferMode(s), nil
	default:
		return "", fmt.Errorf("mode must be 'netascii', 'octet', or 'mail', got %q", s)
	}
}

func runGet(host, modeFlag, remote, local string) error {
	mode, err := parseMode(modeFlag)
	if err != nil {
		return err
	}
	c := tftp.NewClient()
	status, err := c.Get(context.Background(), host, remote, local, mode)
	return report(status, err)
}

func runPut(host, modeFlag, local, remote string) error {
	mode, err := parseMode(modeFlag)
	if err != nil {
		return err
	}
	c := tftp.NewClient()
	status, err := c.Put(context.Background(), host, local, remote, mode)
	return report(status, err)
}

func report(status tftp.Status, err error) error {
	if err != nil {
		return err
	}
	if !status.OK() {
		logrus.Errorf("transfer failed: %s", status)
		return fmt.Errorf("transfer failed: %s", status)
	}
	return nil
}
