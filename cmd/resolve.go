package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/credresolve/internal/progress"
	"github.com/sells-group/credresolve/internal/sheet"
)

var resolveOut string

var resolveCmd = &cobra.Command{
	Use:   "resolve <input.xlsx|input.xls|input.csv>",
	Short: "Resolve every row of a spreadsheet and write the result file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// An interrupt cancels the batch, which still releases its session.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		o, err := initOrchestrator("resolve")
		if err != nil {
			return err
		}

		state, err := o.RunFile(ctx, args[0], logEvent)
		if err != nil {
			return err
		}

		out := resolveOut
		if out == "" {
			out = sheet.ResultFilename(time.Now())
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "resolve: create output")
		}
		if err := sheet.WriteResults(f, state.Results); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "resolve: close output")
		}

		resolved, failed := state.Summary()
		zap.L().Info("results written",
			zap.String("path", out),
			zap.Int("resolved", resolved),
			zap.Int("failed", failed),
		)
		return nil
	},
}

// logEvent reports batch progress on the terminal.
func logEvent(ev progress.Event) {
	switch ev.Type {
	case progress.TypeProgress:
		zap.L().Info("processing row",
			zap.Int("current", ev.Current),
			zap.Int("total", ev.Total),
			zap.String("client_ref", ev.ClientRef),
		)
	case progress.TypeError:
		zap.L().Error("batch failed", zap.String("message", ev.Message))
	}
}

func init() {
	resolveCmd.Flags().StringVar(&resolveOut, "out", "", "output path (default resultados_<date>.xlsx)")
	rootCmd.AddCommand(resolveCmd)
}
