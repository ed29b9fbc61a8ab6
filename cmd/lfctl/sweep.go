package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyxmakerx/loginfirewall/internal/plugins/audit"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/groups"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/whitelist"
	"github.com/keyxmakerx/loginfirewall/internal/sanitize"
	"github.com/keyxmakerx/loginfirewall/internal/zoraxy"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired whitelist grants now",
		Long: "Runs one expiry sweep against the portal database. Grant locks " +
			"are per process, so while the server is running prefer " +
			"POST /api/admin/whitelist/sweep.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			client, err := newZoraxyClient()
			if errors.Is(err, zoraxy.ErrNotConfigured) {
				return fmt.Errorf("sweep needs ZORAXY_API_URL, ZORAXY_USERNAME and ZORAXY_PASSWORD")
			}
			if err != nil {
				return err
			}

			service := whitelist.NewWhitelistService(
				whitelist.NewEntryRepository(db),
				groups.NewGroupService(groups.NewGroupRepository(db), nil),
				client,
				whitelist.Options{
					TTL:         cfg.Whitelist.TTL,
					Comment:     sanitize.Text(cfg.Whitelist.Comment),
					Concurrency: cfg.Whitelist.Concurrency,
					Audit:       audit.NewAuditService(audit.NewAuditRepository(db)),
				},
			)

			result, err := service.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d, still failing %d, renewed %d\n",
				result.Removed, result.StillFailing, result.Renewed)
			return nil
		},
	}
}
