package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/windrose-io/windrose/pkg/log"
	"github.com/windrose-io/windrose/pkg/signing"
	"github.com/windrose-io/windrose/pkg/storage"
	"github.com/windrose-io/windrose/pkg/types"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage tenant signing keys",
}

func keyManager(cmd *cobra.Command) (*signing.KeyManager, storage.Store, error) {
	_, store, err := openStore(cmd)
	if err != nil {
		return nil, nil, err
	}
	return signing.NewKeyManager(store, log.WithComponent("keys")), store, nil
}

var keysListCmd = &cobra.Command{
	Use:   "list TENANT",
	Short: "List a tenant's signing keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		km, store, err := keyManager(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		keys, err := km.ListTenantKeys(args[0])
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No keys found")
			return nil
		}

		fmt.Printf("%-36s  %-16s  %-8s  %s\n", "KEY ID", "ALGORITHM", "STATUS", "CREATED")
		for _, key := range keys {
			fmt.Printf("%-36s  %-16s  %-8s  %s\n",
				key.KeyID, key.Algorithm, key.Status, key.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var keysRegisterCmd = &cobra.Command{
	Use:   "register TENANT",
	Short: "Register a public key for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		km, store, err := keyManager(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		algorithm, _ := cmd.Flags().GetString("algorithm")
		keyFile, _ := cmd.Flags().GetString("public-key")
		activate, _ := cmd.Flags().GetBool("activate")

		pem, err := os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("failed to read public key: %w", err)
		}

		key, err := km.RegisterPublicKey(args[0], algorithm, string(pem), activate)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Key %s registered (%s)\n", key.KeyID, key.Algorithm)
		if key.Status == types.KeyStatusActive {
			fmt.Println("  Key is now active")
		}
		return nil
	},
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate TENANT",
	Short: "Register a new active key, expiring the current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		km, store, err := keyManager(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		algorithm, _ := cmd.Flags().GetString("algorithm")
		keyFile, _ := cmd.Flags().GetString("public-key")

		pem, err := os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("failed to read public key: %w", err)
		}

		key, err := km.Rotate(args[0], algorithm, string(pem))
		if err != nil {
			return err
		}

		fmt.Printf("✓ Rotated to key %s (%s)\n", key.KeyID, key.Algorithm)
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke KEY_ID",
	Short: "Revoke a signing key",
	Long: `Revoke a signing key. Entries signed with a revoked key stay on
the chain; verification reports them against the revoked key material.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		km, store, err := keyManager(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		key, err := km.SetKeyStatus(args[0], types.KeyStatusRevoked)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Key %s revoked\n", key.KeyID)
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRegisterCmd)
	keysCmd.AddCommand(keysRotateCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	keysRegisterCmd.Flags().String("algorithm", types.AlgEd25519, "Key algorithm")
	keysRegisterCmd.Flags().String("public-key", "", "Path to a PEM public key file")
	keysRegisterCmd.Flags().Bool("activate", true, "Activate the key immediately")
	keysRegisterCmd.MarkFlagRequired("public-key")

	keysRotateCmd.Flags().String("algorithm", types.AlgEd25519, "Key algorithm")
	keysRotateCmd.Flags().String("public-key", "", "Path to a PEM public key file")
	keysRotateCmd.MarkFlagRequired("public-key")
}
