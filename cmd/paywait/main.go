package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"payment_verification_gateway/internal/client"
	"payment_verification_gateway/internal/logger"
	"payment_verification_gateway/internal/model"
	"payment_verification_gateway/internal/waitflow"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		server    string
		amount    string
		payer     string
		budget    time.Duration
		minAmount string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "paywait",
		Short: "Wait in the terminal until a UPI payment is confirmed",
		Long: `Starts a verification on the gateway and shows the countdown while the
server looks for the bank alert.

Commands while waiting:
  c         cancel (asks for confirmation)
  y / n     confirm or decline the cancel
  r         retry after a failure
  u <utr>   submit the UTR manually after a failure
  d         close the failure screen
  q         quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			minAmt, err := decimal.NewFromString(minAmount)
			if err != nil {
				return fmt.Errorf("invalid minimum amount %q: %w", minAmount, err)
			}

			log, err := logger.New(logLevel, false)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			view := &terminalView{out: cmd.OutOrStdout()}
			ctrl := waitflow.NewController(waitflow.Config{
				Budget:    budget,
				Tick:      time.Second,
				MinAmount: minAmt,
			}, client.New(server, log), view, log)
			defer ctrl.Close()

			ctrl.Start(ctx, amt, payer)
			return readCommands(ctx, ctrl, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Gateway base URL")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount paid, in rupees")
	cmd.Flags().StringVar(&payer, "payer", "", "Payer name or UPI id as it appears on the bank alert")
	cmd.Flags().DurationVar(&budget, "budget", waitflow.DefaultBudget, "How long to wait for the payment")
	cmd.Flags().StringVar(&minAmount, "min-amount", "10", "Smallest accepted amount")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("payer")

	return cmd
}

func readCommands(ctx context.Context, ctrl *waitflow.Controller, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			// the open start request is aborted with ctx, which ends the
			// server session as a disconnect
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleCommand(ctx, ctrl, line); quit {
				return nil
			}
		}
	}
}

func handleCommand(ctx context.Context, ctrl *waitflow.Controller, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(cmd) {
	case "c":
		ctrl.CancelIntent()
	case "y":
		ctrl.ConfirmCancel(ctx)
	case "n":
		ctrl.DeclineCancel()
	case "r":
		ctrl.Retry(ctx)
	case "u":
		ctrl.SubmitUTR(arg)
	case "d":
		ctrl.Dismiss()
	case "q":
		return true
	}
	return false
}

type terminalView struct {
	out io.Writer
}

func (v *terminalView) ShowOverlay(amount decimal.Decimal, sessionID string) {
	fmt.Fprintf(v.out, "\nWaiting for payment of Rs.%s (session %s)\n", amount.StringFixed(2), sessionID)
}

func (v *terminalView) HideOverlay() {
	fmt.Fprintln(v.out)
}

func (v *terminalView) ShowCountdown(remaining time.Duration) {
	secs := int(remaining.Seconds())
	fmt.Fprintf(v.out, "\rTime left %02d:%02d ", secs/60, secs%60)
}

func (v *terminalView) ShowCancelPrompt() {
	fmt.Fprint(v.out, "\nCancel this payment? [y/n] ")
}

func (v *terminalView) HideCancelPrompt() {}

func (v *terminalView) ShowFailed(reason waitflow.FailReason) {
	msg := "Payment not detected."
	switch reason {
	case waitflow.FailTimedOut:
		msg = "Time is up and the payment was not detected."
	case waitflow.FailServerError:
		msg = "Could not reach the verification server."
	}
	fmt.Fprintf(v.out, "\n%s\n  r        retry\n  u <utr>  submit the UTR manually\n  d        close\n", msg)
}

func (v *terminalView) HideFailed() {}

func (v *terminalView) ShowConfirmed(data model.Extracted) {
	ref := ""
	if data.ReferenceID != nil {
		ref = *data.ReferenceID
	}
	fmt.Fprintf(v.out, "\nPayment received successfully (reference %s)\n", ref)
}

func (v *terminalView) ShowCancelled() {
	fmt.Fprintln(v.out, "\nPayment cancelled")
}

func (v *terminalView) ShowUTRSubmitted(utr string) {
	fmt.Fprintf(v.out, "\nUTR %s submitted. We will verify shortly.\n", utr)
}

func (v *terminalView) ShowInvalid(err error) {
	fmt.Fprintf(v.out, "\n%v\n", err)
}
