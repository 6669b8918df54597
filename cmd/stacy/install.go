package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/janfasnacht/stacy/internal/config"
	"github.com/janfasnacht/stacy/internal/installer"
	"github.com/janfasnacht/stacy/internal/lockfile"
	"github.com/janfasnacht/stacy/internal/pkgsource"
	"github.com/janfasnacht/stacy/internal/runner"
)

func newInstallCmd(cliCtx *cliContext) *cobra.Command {
	var versionFlag string

	cmd := &cobra.Command{
		Use:   "install <package>",
		Short: "Fetch a manifest-declared package and add it to the lockfile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			project, err := discoverProject()
			if err != nil {
				return err
			}
			spec, ok := project.Manifest.Dependencies[name]
			if !ok {
				return fmt.Errorf("%q is not declared in %s", name, runner.ManifestFilename)
			}
			source, err := config.ParseSourceSpec(spec.Source)
			if err != nil {
				return err
			}

			version := versionFlag
			if version == "" {
				version = spec.Version
			}
			if version == "" {
				return fmt.Errorf("%q has no pinned version in the manifest; pass --version", name)
			}

			client := pkgsource.NewClient(cliCtx.logger)
			result, err := client.Fetch(cmd.Context(), name, source)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", name, err)
			}

			files := make(map[string][]byte, len(result.Files))
			for _, f := range result.Files {
				files[f.Name] = f.Data
			}

			inst := installer.New(cliCtx.cache, cliCtx.logger)
			installed, err := inst.Install(name, version, files)
			if err != nil {
				return fmt.Errorf("installing %s: %w", name, err)
			}

			if source.Type == lockfile.SourceHost && result.ResolvedCommitSHA != "" {
				source.CommitSHA = result.ResolvedCommitSHA
			}
			checksum := result.CombinedHash

			lockfilePath := filepath.Join(project.Root, runner.LockfileFilename)
			lf, err := loadOrCreateLockfile(lockfilePath)
			if err != nil {
				return err
			}
			lf.Put(name, lockfile.Entry{
				Version:  version,
				Source:   source,
				Checksum: &checksum,
				Group:    spec.Group,
			})
			if err := lf.Save(lockfilePath); err != nil {
				return fmt.Errorf("saving lockfile: %w", err)
			}

			adopted := ""
			if installed.Adopted {
				adopted = " (adopted a concurrent install)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %s@%s into %s%s\n", name, version, installed.Dir, adopted)
			return nil
		},
	}

	cmd.Flags().StringVar(&versionFlag, "version", "", "version to install (defaults to the manifest's pinned version)")
	return cmd
}

func loadOrCreateLockfile(path string) (*lockfile.Lockfile, error) {
	lf, err := lockfile.Load(path)
	if err == lockfile.ErrNotFound {
		return lockfile.New("0.1.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading lockfile: %w", err)
	}
	return lf, nil
}
