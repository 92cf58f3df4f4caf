package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/errors"
)

type searchResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Name  string  `json:"name,omitempty"`
}

func newSearchCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the document store",
		Long: `Match a query against the text of the committed documents. Use this
to check what a pass produced.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if strings.TrimSpace(query) == "" {
				return errors.New(errors.ErrCodeInvalidInput, "query is empty", nil)
			}
			if limit <= 0 {
				return errors.New(errors.ErrCodeInvalidInput, "limit must be positive", nil)
			}

			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			ctx := cmd.Context()
			hits, err := p.docs.Search(ctx, query, limit)
			if err != nil {
				return err
			}

			results := make([]searchResult, 0, len(hits))
			for _, h := range hits {
				r := searchResult{ID: h.ID, Score: h.Score}
				if fields, ok, err := p.docs.Get(ctx, h.ID); err == nil && ok {
					r.Name, _ = fields["name"].(string)
				}
				results = append(results, r)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if len(results) == 0 {
				fmt.Fprintf(out, "No documents match %q\n", query)
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%2d. %-20s %6.3f  %s\n", i+1, r.ID, r.Score, r.Name)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}
