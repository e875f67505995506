package cmd

import (
	"context"
	"fmt"

	"presip-lab/server/internal/app"
	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"
	"presip-lab/server/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Practice in the terminal without starting a server",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().String("lang", "en", "interface language: en|zh")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	langFlag, _ := cmd.Flags().GetString("lang")
	lang, err := model.ParseLanguage(langFlag)
	if err != nil {
		return err
	}

	// 全屏界面下日志会打乱画面，这里直接丢弃。
	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger.Nop())
	if err != nil {
		return err
	}

	state, err := a.Orchestrator.CreateSession(ctx, lang)
	if err != nil {
		return err
	}
	sub := a.Hub.Subscribe(ctx, state.SessionID)
	defer a.Hub.Unsubscribe(sub)

	p := tea.NewProgram(tui.New(ctx, a.Orchestrator, state, sub.C()), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
