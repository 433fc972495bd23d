package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/poqudrof/Locrits-sub000/src/config"
	"github.com/poqudrof/Locrits-sub000/src/director"
	"github.com/poqudrof/Locrits-sub000/src/memory/orchestrator"
	"github.com/poqudrof/Locrits-sub000/src/models"
)

func newChatCmd(root *rootOptions) *cobra.Command {
	var (
		sessionID    string
		userID       string
		systemPrompt string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the Locrit, one message per line on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withMemory(cmd, func(ctx context.Context, cfg *config.Config, mem *orchestrator.Orchestrator) error {
				logger := cfg.Logger("chat")
				agent, err := models.New(ctx, models.SettingsFromConfig(cfg))
				if err != nil {
					return err
				}
				d, err := director.New(agent, mem, nil, director.Options{
					SystemPrompt: systemPrompt,
					Timeout:      cfg.Completion.Timeout,
				})
				if err != nil {
					return err
				}
				d.WithLogger(cfg.Logger("director"))

				// Background drains follow the configured cadence while chatting.
				runCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					if err := mem.Run(runCtx); err != nil && runCtx.Err() == nil {
						logger.Warn("drain scheduler stopped", "err", err)
					}
				}()

				chatErr := d.Chat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), sessionID, userID)
				cancel()
				if mem.Pending() > 0 {
					report, err := mem.ForceUpdate(ctx)
					if err != nil {
						logger.Warn("final drain failed", "err", err)
					} else {
						logger.Info("conversation stored", "processed", report.Processed, "created", report.Created, "updated", report.Updated)
					}
				}
				return chatErr
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli", "conversation session id")
	cmd.Flags().StringVar(&userID, "user", "local", "user id recorded with each message")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt override")
	return cmd
}
