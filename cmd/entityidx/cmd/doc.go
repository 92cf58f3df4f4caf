package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/entityidx/internal/errors"
)

func newDocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doc <id>",
		Short: "Print a committed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			fields, ok, err := p.docs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New(errors.ErrCodeNotFound, fmt.Sprintf("no document %q", args[0]), nil).
					WithSuggestion("queue it with 'entityidx enqueue " + args[0] + " --run'")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(fields)
		},
	}
}
