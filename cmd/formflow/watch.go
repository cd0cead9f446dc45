package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/formflow/internal/config"
	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/middleware"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	endpoint  string
	token     string
	userID    string
	taskID    int64
	companyID int64
	roles     []string
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var wo watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the realtime messages of a task or company",
		Long: `Connect to the websocket endpoint, subscribe to a task and/or company and
print every message as one JSON line.

Without --token a short-lived token is signed with the configured JWT secret
for --user.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wo.taskID == 0 && wo.companyID == 0 {
				return errors.New("give --task or --company")
			}
			cfg, err := config.LoadFile(opts.configFile)
			if err != nil {
				return err
			}
			if wo.endpoint == "" {
				wo.endpoint = fmt.Sprintf("ws://127.0.0.1:%d/api/ws", cfg.Server.Port)
			}
			if wo.token == "" {
				wo.token, err = middleware.GenerateToken(cfg.JWT.Secret, middleware.JWTClaims{
					UserID: wo.userID,
					Name:   wo.userID,
					Roles:  wo.roles,
				}, time.Hour)
				if err != nil {
					return fmt.Errorf("sign token: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, wo, cmd)
		},
	}
	cmd.Flags().StringVar(&wo.endpoint, "endpoint", "", "websocket endpoint (default ws://127.0.0.1:<server.port>/api/ws)")
	cmd.Flags().StringVar(&wo.token, "token", "", "bearer token")
	cmd.Flags().StringVar(&wo.userID, "user", "formflow-watch", "user id for a self-signed token")
	cmd.Flags().StringSliceVar(&wo.roles, "role", []string{middleware.RoleAdmin}, "roles for a self-signed token")
	cmd.Flags().Int64Var(&wo.taskID, "task", 0, "task id to subscribe to")
	cmd.Flags().Int64Var(&wo.companyID, "company", 0, "company id to subscribe to")
	return cmd
}

func runWatch(ctx context.Context, wo watchOptions, cmd *cobra.Command) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	client, err := realtime.Dial(dialCtx, wo.endpoint, wo.token)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	if wo.taskID != 0 {
		if err := client.Subscribe(realtime.TaskScope(wo.taskID)); err != nil {
			return fmt.Errorf("subscribe task: %w", err)
		}
	}
	if wo.companyID != 0 {
		if err := client.Subscribe(realtime.CompanyScope(wo.companyID)); err != nil {
			return fmt.Errorf("subscribe company: %w", err)
		}
	}

	// Next does not observe ctx while blocked in a read, closing the socket does.
	go func() {
		<-ctx.Done()
		client.Close()
	}()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		msg, err := client.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
}
