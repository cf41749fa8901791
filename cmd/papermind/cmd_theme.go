package main

import (
	"fmt"

	"papermind/internal/types"

	"github.com/spf13/cobra"
)

var themeCmd = &cobra.Command{
	Use:       "theme [light|dark]",
	Short:     "Show or set the colour theme shared by every papermind process",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(types.ThemeLight), string(types.ThemeDark)},
	RunE:      runTheme,
}

func addThemeCommand(root *cobra.Command) {
	root.AddCommand(themeCmd)
}

func runTheme(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		if err := a.theme.Set(types.ParseTheme(args[0])); err != nil {
			return fmt.Errorf("failed to save theme: %w", err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), a.theme.Current())
	return nil
}
