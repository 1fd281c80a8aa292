package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newUpdateKeysCmd() *cobra.Command {
	var (
		root       string
		maxWorkers int
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "update-keys [paths...]",
		Short: "Re-wrap data keys after a .sops.yaml change",
		Long: `Update-keys runs "sops updatekeys -y" over the encrypted secrets files.
Files whose content is unchanged since the last successful run are
skipped. Use --force after editing .sops.yaml, since key policy changes
do not alter file content.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdateKeys(root, args, maxWorkers, force)
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "Project root containing the secrets directory")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 4, "Number of files to process in parallel")
	cmd.Flags().BoolVar(&force, "force", false, "Process files even when unchanged")

	return cmd
}

func runUpdateKeys(root string, paths []string, maxWorkers int, force bool) error {
	files, err := findSecretsFiles(root, paths)
	if err != nil {
		return err
	}
	state, err := loadState(root)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	var (
		mu      sync.Mutex
		updated int
		skipped int
	)
	var group errgroup.Group
	group.SetLimit(maxWorkers)

	for _, file := range files {
		file := file
		group.Go(func() error {
			encrypted, err := isEncrypted(file)
			if err != nil {
				return err
			}
			if !encrypted {
				return fmt.Errorf("%s is not sops-encrypted, run encrypt first", file)
			}

			changed, _, err := state.changed(file)
			if err != nil {
				return err
			}
			if !changed && !force {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}

			if _, err := runSops("updatekeys", "-y", file); err != nil {
				return err
			}
			sum, err := hashFile(file)
			if err != nil {
				return err
			}
			mu.Lock()
			state[file] = sum
			updated++
			mu.Unlock()
			fmt.Fprintf(os.Stderr, "updated keys for %s\n", file)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if err := state.save(root); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	fmt.Printf("%d updated, %d skipped\n", updated, skipped)
	return nil
}
