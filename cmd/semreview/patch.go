package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/c360studio/semreview/patch"
)

func patchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Suggested-patch tools",
		Long:  "Applies model-suggested patches locally, using the same cleanup and validation the review pipeline applies before attaching a patch to a finding.",
	}
	cmd.AddCommand(patchApplyCmd())
	return cmd
}

func patchApplyCmd() *cobra.Command {
	var dir string
	var toStdout bool

	cmd := &cobra.Command{
		Use:   "apply <patch-file>",
		Short: "Apply a unified diff to the file it names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			diff := patch.Clean(string(raw))
			if !patch.LooksLikeUnifiedDiff(diff) {
				return fmt.Errorf("%s does not look like a unified diff", args[0])
			}
			target, ok := patch.TargetFile(diff)
			if !ok {
				return fmt.Errorf("%s names no target file", args[0])
			}

			targetPath := filepath.Join(dir, filepath.FromSlash(target))
			content, err := os.ReadFile(targetPath)
			if err != nil {
				return fmt.Errorf("read target: %w", err)
			}

			patched, err := patch.Apply(string(content), diff)
			if err != nil {
				return fmt.Errorf("apply to %s: %w", target, err)
			}

			if toStdout {
				fmt.Fprint(cmd.OutOrStdout(), patched)
				return nil
			}

			info, err := os.Stat(targetPath)
			if err != nil {
				return err
			}
			if err := os.WriteFile(targetPath, []byte(patched), info.Mode().Perm()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Patched %s\n", targetPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory the patch paths are relative to")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Print the patched content instead of writing the file")
	return cmd
}
