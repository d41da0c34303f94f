package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/capture"
	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/session"
)

var errCheckFailed = errors.New("liveness check failed")

func runCmd(opts *rootOptions) *cobra.Command {
	var (
		outcomePath    string
		enrollmentID   string
		sessionTimeout = capture.DefaultSessionTimeout
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one liveness check against a recorded capture outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := capture.LoadOutcome(outcomePath)
			if err != nil {
				return err
			}

			replay := capture.NewReplay(*outcome, opts.logger)
			replay.SessionTimeout = sessionTimeout
			client := opts.client()
			ui := newConsoleUI(cmd.OutOrStdout(), opts.logger)

			completions := make(chan session.Completion, 1)
			controller := session.NewController(ui, client, replay, client, opts.logger,
				session.WithStillUploadingDelay(opts.cfg.StillUploadingDelay),
				session.WithUploadTimeout(opts.cfg.HTTPTimeout),
				session.WithObserver(func(done session.Completion) { completions <- done }),
			)
			controller.SetLatestEnrollmentIdentifier(enrollmentID)

			ctx := cmd.Context()
			if err := controller.StartLivenessCheck(ctx); err != nil {
				return err
			}

			var done session.Completion
			select {
			case done = <-completions:
			case <-ctx.Done():
				return ctx.Err()
			}
			if done.Err == nil {
				<-replay.Done()
			}

			opts.logger.Debug("session results",
				zap.Any("session_result", controller.LatestSessionResult()),
				zap.Any("server_result", controller.LatestServerResult()),
				zap.String("enrollment_id", controller.LatestEnrollmentIdentifier()))

			if done.Err != nil {
				opts.logger.Debug("liveness check ended early", zap.String("failed_operation", logging.OperationOf(done.Err)))
				return fmt.Errorf("%w: %v", errCheckFailed, done.Err)
			}
			if !done.Success {
				return fmt.Errorf("%w: session %s", errCheckFailed, done.SessionID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s confirmed\n", done.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outcomePath, "outcome", "o", "", "JSON file with the recorded capture outcome")
	cmd.Flags().StringVar(&enrollmentID, "enrollment-id", "", "enrollment identifier to keep when the check succeeds")
	cmd.Flags().DurationVar(&sessionTimeout, "session-timeout", sessionTimeout, "cancel the session if it is not resolved in time")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}
