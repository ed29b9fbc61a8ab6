package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keyxmakerx/loginfirewall/internal/config"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/whitelist"
	"github.com/keyxmakerx/loginfirewall/internal/zoraxy"
)

func newWhitelistCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Add or remove a single remote whitelist entry",
		Long: "Calls the Zoraxy API directly, bypassing the portal database. " +
			"Useful for checking credentials and rule ids.",
	}
	cmd.AddCommand(newWhitelistAddCommand(), newWhitelistRemoveCommand())
	return cmd
}

func newWhitelistAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <whitelist-id> <ip> [comment]",
		Short: "Whitelist an IP on a Zoraxy access rule",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newZoraxyClient()
			if err != nil {
				return err
			}
			comment := whitelist.DefaultComment
			if len(args) == 3 {
				comment = args[2]
			}

			err = client.AddEntry(cmd.Context(), args[0], args[1], comment)
			if printErr := printSession(cmd.OutOrStdout(), client); printErr != nil {
				return printErr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", args[1], args[0])
			return nil
		},
	}
}

func newWhitelistRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <whitelist-id> <ip>",
		Short: "Remove an IP from a Zoraxy access rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newZoraxyClient()
			if err != nil {
				return err
			}

			err = client.RemoveEntry(cmd.Context(), args[0], args[1])
			if printErr := printSession(cmd.OutOrStdout(), client); printErr != nil {
				return printErr
			}
			switch {
			case zoraxy.IsNotFound(err):
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not on %s\n", args[1], args[0])
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", args[1], args[0])
			return nil
		},
	}
}

func newZoraxyClient() (*zoraxy.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return zoraxy.New(zoraxy.Config{
		BaseURL:  cfg.Zoraxy.URL,
		Username: cfg.Zoraxy.Username,
		Password: cfg.Zoraxy.Password,
		Timeout:  cfg.Zoraxy.Timeout,
	})
}

// printSession writes the redacted session state: cookie names and token
// presence only.
func printSession(w io.Writer, client *zoraxy.Client) error {
	fmt.Fprintln(w, "# zoraxy session")
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(client.Session().Debug()); err != nil {
		return fmt.Errorf("encoding session state: %w", err)
	}
	return enc.Close()
}
