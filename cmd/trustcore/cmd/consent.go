package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helyxium/trustcore/core"
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Parental consent maintenance",
}

var consentSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired, unverified consent requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		c, err := core.Open(cmd.Context(), cfg, newLogger(cfg), core.WithoutSweeper())
		if err != nil {
			return err
		}
		defer c.Close()

		n, err := c.Coppa.CleanupExpiredConsents(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired consent request(s)\n", n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(consentCmd)
	consentCmd.AddCommand(consentSweepCmd)
}
