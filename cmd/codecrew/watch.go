package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/codecrew-dev/codecrew/internal/config"
	"github.com/codecrew-dev/codecrew/internal/tui"
)

func watchCmd(configPath *string) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Attach the terminal viewer to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			url := serverURL
			if url == "" {
				url = "http://" + cfg.Server.Addr()
			}
			app := tui.NewApp(url, cfg.Viewer.PollInterval.Std())
			if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default from config)")
	return cmd
}
