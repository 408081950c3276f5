package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/the-pantry-must-flow/internal/cli"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage feedback sessions",
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed sessions and send due reminders",
		Long: `Run one reminder sweep: lapsed waiting sessions are expired and users
whose session is old enough get a reminder to send their receipt. The server
runs this on session.reminder_schedule; this command runs it once.`,
		RunE: runSweep,
	}
	sweep.Flags().Bool("print", false, "Print reminders to stdout instead of sending them over WhatsApp")
	cmd.AddCommand(sweep)

	return cmd
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	printOnly, _ := cmd.Flags().GetBool("print")

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
	if !printOnly {
		wa, err := a.whatsappClient()
		if err != nil {
			return err
		}
		messenger = wa
	}

	res, err := a.sessions.Sweep(ctx, messenger)
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("Expired %d sessions, sent %d reminders", res.Expired, res.Reminded)
	if res.Failed > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s, %d reminders failed", msg, res.Failed)))
		return nil
	}
	fmt.Fprintln(out, cli.FormatSuccess(msg))
	return nil
}
