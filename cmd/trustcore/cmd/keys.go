package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helyxium/trustcore/custodian"
)

var eraseConfirmed bool

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Key material tools",
}

var keysPubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Print the transmission public key (PEM)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cust, err := openCustodian(cmd, custodian.PolicyFail)
		if err != nil {
			return err
		}
		defer cust.Close()

		pem, err := cust.PublicKeyPEM()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(pem)
		return err
	},
}

var keysEraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Irreversibly destroy all key material",
	Long: `Overwrites and deletes the local key and RSA key pair. Every sealed
credential and TOTP secret becomes permanently unreadable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !eraseConfirmed {
			return errors.New("refusing to erase keys without --yes")
		}
		// Corrupt files are erased too, so load them with regeneration
		// rather than refusing to open.
		cust, err := openCustodian(cmd, custodian.PolicyRegenerate)
		if err != nil {
			return err
		}
		defer cust.Close()

		if err := cust.SecureEraseKeys(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key material erased from %s\n", cust.Dir())
		return nil
	},
}

func openCustodian(cmd *cobra.Command, policy custodian.CorruptKeyPolicy) (*custodian.Custodian, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return custodian.Open(cfg.KeyDir(),
		custodian.WithLogger(newLogger(cfg)),
		custodian.WithCorruptKeyPolicy(policy))
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysPubkeyCmd)
	keysCmd.AddCommand(keysEraseCmd)
	keysEraseCmd.Flags().BoolVar(&eraseConfirmed, "yes", false, "Confirm irreversible erasure")
}
