package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/futures-guardian/internal/audit"
)

func newVerifyAuditCmd() *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "verify-audit",
		Short: "Verify the hash chain of a JSONL audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			res := audit.Verify(file)
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else if res.Valid {
				fmt.Fprintf(out, "✅ %s: %d records, chain intact\n", file, res.Lines)
				kinds := make([]string, 0, len(res.Kinds))
				for k := range res.Kinds {
					kinds = append(kinds, string(k))
				}
				sort.Strings(kinds)
				for _, k := range kinds {
					fmt.Fprintf(out, "   %-20s %d\n", k, res.Kinds[audit.Kind(k)])
				}
			}

			if !res.Valid {
				msg := fmt.Sprintf("%s: %s", file, res.Error)
				if res.ErrorLine > 0 {
					msg = fmt.Sprintf("%s (line %d)", msg, res.ErrorLine)
				}
				return &exitError{code: 1, msg: msg}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Audit log path (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.MarkFlagRequired("file")
	return cmd
}
