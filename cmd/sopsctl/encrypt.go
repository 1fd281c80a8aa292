package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newEncryptCmd() *cobra.Command {
	var (
		root       string
		maxWorkers int
	)

	cmd := &cobra.Command{
		Use:   "encrypt [paths...]",
		Short: "Encrypt plaintext secrets files in place",
		Long: `Encrypt runs "sops -e -i" over the secrets files. Files that already
carry sops metadata are skipped, so re-running encrypt is idempotent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncrypt(root, args, maxWorkers)
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "Project root containing the secrets directory")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 4, "Number of files to encrypt in parallel")

	return cmd
}

func runEncrypt(root string, paths []string, maxWorkers int) error {
	files, err := findSecretsFiles(root, paths)
	if err != nil {
		return err
	}
	state, err := loadState(root)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	var (
		mu        sync.Mutex
		encrypted int
		skipped   int
	)
	var group errgroup.Group
	group.SetLimit(maxWorkers)

	for _, file := range files {
		file := file
		group.Go(func() error {
			already, err := isEncrypted(file)
			if err != nil {
				return err
			}
			if already {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}

			if _, err := runSops("--input-type", "yaml", "--output-type", "yaml", "-e", "-i", file); err != nil {
				return err
			}
			sum, err := hashFile(file)
			if err != nil {
				return err
			}
			mu.Lock()
			state[file] = sum
			encrypted++
			mu.Unlock()
			fmt.Fprintf(os.Stderr, "encrypted %s\n", file)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if err := state.save(root); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	fmt.Printf("%d encrypted, %d skipped\n", encrypted, skipped)
	return nil
}
