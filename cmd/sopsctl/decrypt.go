package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDecryptCmd() *cobra.Command {
	var inPlace bool

	cmd := &cobra.Command{
		Use:   "decrypt <file>",
		Short: "Decrypt a secrets file",
		Long: `Decrypt prints the plaintext YAML to stdout. With --in-place the file
is rewritten as plaintext, which is only appropriate for local editing
followed by "sopsctl encrypt".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecrypt(args[0], inPlace)
		},
	}

	cmd.Flags().BoolVarP(&inPlace, "in-place", "i", false, "Rewrite the file as plaintext")

	return cmd
}

func runDecrypt(path string, inPlace bool) error {
	encrypted, err := isEncrypted(path)
	if err != nil {
		return err
	}
	if !encrypted {
		return fmt.Errorf("%s is not sops-encrypted", path)
	}

	args := []string{"--input-type", "yaml", "--output-type", "yaml", "-d"}
	if inPlace {
		args = append(args, "-i")
	}
	out, err := runSops(append(args, path)...)
	if err != nil {
		return err
	}
	if !inPlace {
		fmt.Print(string(out))
	}
	return nil
}
