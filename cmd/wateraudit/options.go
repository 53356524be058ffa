package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/wateraudit/internal/schema"
)

func newOptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List the accepted values for each questionnaire flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printOptions(cmd.OutOrStdout())
			return nil
		},
	}
}

func printOptions(w io.Writer) {
	rows := []struct{ flag, values string }{
		{"--source", schema.OptionList(schema.SourceTypes)},
		{"--usage", schema.OptionList(schema.Usages)},
		{"--surroundings", schema.OptionList(schema.SurroundingsOptions)},
		{"--issue (repeatable)", schema.OptionList(schema.NoticedIssues)},
		{"--purification", schema.OptionList(schema.PurificationPreferences) + " (default " + string(schema.DefaultPurification) + ")"},
		{"--urgency", schema.OptionList(schema.Urgencies) + " (default " + string(schema.DefaultUrgency) + ")"},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s%s\n", labelStyle.Render(r.flag), r.values)
	}
}
