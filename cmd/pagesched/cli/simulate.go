package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Swind/go-page-scheduler/core"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a background-tab scenario on virtual time",
	Long: `Run a page with a main frame and cross-origin subframes, each with a
repeating JavaScript timer, hide it and report how often the timers ran.

The scenario runs on a simulated clock, so ten minutes of page time take
milliseconds.`,
	RunE: runSimulate,
}

func init() {
	fs := simulateCmd.Flags()
	fs.Int("subframes", 1, "number of cross-origin subframes")
	fs.Duration("timer-interval", 100*time.Millisecond, "delay of each repeating timer")
	fs.Duration("hide-after", 10*time.Second, "virtual time before the page is hidden")
	fs.Duration("duration", 10*time.Minute, "total virtual time")
	fs.Bool("opt-out", false, "register a WebSocket on the main frame (disables intensive throttling)")
	fs.Bool("audio", false, "mark the page as playing audio")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fs := cmd.Flags()
	sc := Scenario{
		Policy:   cfg.Policy,
		Settings: cfg.Settings,
		Logger:   core.NewSlogLogger(logger),
	}
	if sc.Subframes, err = fs.GetInt("subframes"); err != nil {
		return err
	}
	if sc.TimerInterval, err = fs.GetDuration("timer-interval"); err != nil {
		return err
	}
	if sc.HideAfter, err = fs.GetDuration("hide-after"); err != nil {
		return err
	}
	if sc.Duration, err = fs.GetDuration("duration"); err != nil {
		return err
	}
	if sc.OptOut, err = fs.GetBool("opt-out"); err != nil {
		return err
	}
	if sc.AudioPlaying, err = fs.GetBool("audio"); err != nil {
		return err
	}

	report, err := sc.Run()
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), sc, report)
}

func writeReport(out io.Writer, sc Scenario, r *Report) error {
	fmt.Fprintf(out, "policy=%s hide-after=%s duration=%s timer=%s\n\n",
		sc.Policy, sc.HideAfter, sc.Duration, sc.TimerInterval)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FRAME\tCROSS-ORIGIN\tRUNS\tHIDDEN RUNS\tFIRST\tLAST\tMAX HIDDEN GAP")
	for _, f := range r.Frames {
		fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%s\t%s\t%s\n",
			f.Frame, f.CrossOrigin, f.Runs, f.HiddenRuns, f.FirstRun, f.LastRun, f.MaxHiddenGap)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WAKE-UP POOL\tCOUNT")
	for _, pool := range sortedKeys(r.WakeUps) {
		fmt.Fprintf(tw, "%s\t%.0f\n", pool, r.WakeUps[pool])
	}
	return tw.Flush()
}
