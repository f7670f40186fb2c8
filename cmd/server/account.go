package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Azarenkov/aitu-keeper/internal/crypto"
	"github.com/Azarenkov/aitu-keeper/internal/push"
)

func (a *app) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Register or remove a Moodle account",
	}

	var device string
	add := &cobra.Command{
		Use:   "add <token>",
		Short: "Validate a token, register it and back-fill its snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// registration resyncs silently, nothing is pushed
			d, err := a.wire(cmd.Context(), push.NewLogSender(a.log), nil)
			if err != nil {
				return err
			}
			defer d.db.Close()

			if err := d.accSvc.Register(cmd.Context(), args[0], device); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			a.log.Info("account registered", zap.String("account", crypto.Fingerprint(args[0])))
			return nil
		},
	}
	add.Flags().StringVar(&device, "device", "", "push device token")

	remove := &cobra.Command{
		Use:   "remove <token>",
		Short: "Delete an account and its snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.wire(cmd.Context(), push.NewLogSender(a.log), nil)
			if err != nil {
				return err
			}
			defer d.db.Close()

			if err := d.accSvc.Remove(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("remove: %w", err)
			}
			a.log.Info("account removed", zap.String("account", crypto.Fingerprint(args[0])))
			return nil
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}
