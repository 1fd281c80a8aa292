package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"testapp-infrastructure/secrets"
)

func newToEnvCmd() *cobra.Command {
	var (
		root        string
		environment string
		section     string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "to-env",
		Short: "Convert a secrets section to dotenv format",
		Long: `To-env decrypts the environment's secrets file and writes the chosen
section as KEY=VALUE lines, upper-cased and underscore-joined the same
way the CDK app exports them into the container. The output file is
created with mode 0600.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToEnv(root, environment, section, output)
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "Project root containing the secrets directory")
	cmd.Flags().StringVar(&environment, "env", "dev", "Environment whose secrets file to read")
	cmd.Flags().StringVar(&section, "section", "", "Dot-separated section to export, empty for all")
	cmd.Flags().StringVarP(&output, "out", "o", ".env", "Output file, - for stdout")

	return cmd
}

func runToEnv(root, environment, section, output string) error {
	loader := secrets.NewLoader(root, environment)
	if _, err := loader.LoadSecrets(environment); err != nil {
		return err
	}

	var flat map[string]string
	if section == "" {
		flat = loader.ExportAsEnvVars()
	} else {
		node, err := loader.GetSection(section)
		if err != nil {
			return err
		}
		flat = secrets.Flatten(strings.ToUpper(strings.ReplaceAll(section, ".", "_")), node)
	}

	var b strings.Builder
	for _, key := range secrets.SortedKeys(flat) {
		fmt.Fprintf(&b, "%s=%s\n", key, quoteEnvValue(flat[key]))
	}

	if output == "-" {
		fmt.Print(b.String())
		return nil
	}
	if err := os.WriteFile(output, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d variables to %s\n", len(flat), output)
	return nil
}

// quoteEnvValue wraps values containing whitespace, quotes or shell
// metacharacters in double quotes, escaping embedded quotes and backslashes.
func quoteEnvValue(value string) string {
	if value == "" {
		return `""`
	}
	if !strings.ContainsAny(value, " \t\n\"'#$\\") {
		return value
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	return `"` + escaped + `"`
}
