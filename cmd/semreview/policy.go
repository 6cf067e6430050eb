package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/semreview/review"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Repository review policy tools",
	}
	cmd.AddCommand(policyValidateCmd())
	return cmd
}

// policyValidateCmd checks a .ai-reviewer.yml the same way the worker
// parses it at review time, then prints the effective policy so repo
// owners can see what their overrides resolve to.
func policyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a repository policy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			policy, err := review.ParsePolicy(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid\n\n", args[0])
			fmt.Fprintln(out, "Effective policy:")
			fmt.Fprintf(out, "  failure_on_severity:     %s\n", policy.FailureOnSeverity)
			fmt.Fprintf(out, "  skip_draft_prs:          %t\n", policy.SkipDraftPRs)
			fmt.Fprintf(out, "  post_review_comment:     %t\n", policy.PostReviewComment)
			fmt.Fprintf(out, "  review_comment_mode:     %s\n", policy.ReviewCommentMode)
			fmt.Fprintf(out, "  require_security_review: %t\n", policy.RequireSecurityReview)
			fmt.Fprintf(out, "  require_tests_review:    %t\n", policy.RequireTestsReview)
			fmt.Fprintf(out, "  num_max_findings:        %d\n", policy.NumMaxFindings)
			if len(policy.IgnorePatterns) > 0 {
				fmt.Fprintf(out, "  ignore_patterns:         %s\n", strings.Join(policy.IgnorePatterns, ", "))
			}
			if len(policy.SkipBranchPatterns) > 0 {
				fmt.Fprintf(out, "  skip_branch_patterns:    %s\n", strings.Join(policy.SkipBranchPatterns, ", "))
			}
			if len(policy.SkipAuthorPatterns) > 0 {
				fmt.Fprintf(out, "  skip_author_patterns:    %s\n", strings.Join(policy.SkipAuthorPatterns, ", "))
			}
			return nil
		},
	}
}
