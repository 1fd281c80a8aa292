// Command sopsctl manages the SOPS-encrypted secrets files under secrets/.
//
// Usage:
//
//	sopsctl encrypt [paths...]      Encrypt changed plaintext files in place
//	sopsctl decrypt <file>          Decrypt a file to stdout
//	sopsctl update-keys [paths...]  Re-wrap data keys after .sops.yaml changes
//	sopsctl to-env <file>           Convert a section to dotenv format
//	sopsctl smoke                   Verify deployed secrets and connectivity
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sopsctl",
		Short: "Manage SOPS-encrypted secrets files",
		Long: `sopsctl wraps the sops binary for the per-environment secrets files
stored under secrets/<environment>/secrets.enc.yaml.

Encryption is change-aware: files whose content is unchanged since the
last run are skipped, so re-running encrypt is cheap and idempotent.`,
	}

	rootCmd.AddCommand(
		newEncryptCmd(),
		newDecryptCmd(),
		newUpdateKeysCmd(),
		newToEnvCmd(),
		newSmokeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
