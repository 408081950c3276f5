package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/the-pantry-must-flow/internal/cli"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
)

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <user-id>",
		Short: "Generate a shopping prediction for a user",
		Long: `Run the grocery request flow for a user, exactly as if they had asked for
their groceries over WhatsApp. The prediction is saved and a feedback session
is opened. Messages are printed unless --send is given.`,
		Args: cobra.ExactArgs(1),
		RunE: runPredict,
	}

	cmd.Flags().Bool("send", false, "Deliver the messages over WhatsApp instead of printing them")

	return cmd
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID := args[0]
	send, _ := cmd.Flags().GetBool("send")
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var messenger service.Messenger = consoleMessenger{w: out}
	if send {
		wa, err := a.whatsappClient()
		if err != nil {
			return err
		}
		messenger = wa
	}

	grocery, err := a.grocery(ctx, messenger)
	if err != nil {
		return err
	}

	outcome := grocery.Request(ctx, userID)
	switch {
	case outcome.Prediction == nil:
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("No prediction made (%d receipts on file)", outcome.ReceiptCount)))
	case outcome.Saved && outcome.SessionOpened:
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Prediction %d saved, feedback session %d open until %s",
			outcome.Prediction.ID, outcome.Session.ID, outcome.Session.ExpiresAt.In(cfg.Location).Format("Mon 2 Jan 15:04"))))
	case outcome.Saved:
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Prediction %d saved without a feedback session", outcome.Prediction.ID)))
	default:
		fmt.Fprintln(out, cli.FormatWarning("Prediction delivered but not saved"))
	}

	return errors.Join(outcome.Err, outcome.StorageErr, outcome.SessionErr, outcome.DeliveryErr)
}
