package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ticksched/internal/app"
	"ticksched/internal/config"
	logx "ticksched/pkg/logx"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file and print its task table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(cfgPath).Load()
		if err != nil {
			color.New(color.FgRed, color.Bold).Println("invalid")
			return err
		}

		t := newTable([]string{"NAME", "KIND", "TIMEOUT", "ACTION", "AUTOSTART"})
		for _, tc := range cfg.Tasks {
			kind := tc.Kind
			if kind == "" {
				kind = "periodic"
			}
			t.addRow([]string{tc.Name, kind, tc.Timeout, config.NormalizeAction(tc.Action), strconv.FormatBool(tc.AutostartEnabled())})
		}
		t.render()

		period, _ := cfg.Scheduler.PeriodDuration()
		fmt.Printf("\nperiod %s, %d task(s)\n", period, len(cfg.Tasks))
		color.New(color.FgGreen, color.Bold).Println("ok")
		return nil
	},
}

var firesLimit int

var firesCmd = &cobra.Command{
	Use:   "fires",
	Short: "Print the most recent recorded fires",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(cfgPath).Load()
		if err != nil {
			return err
		}
		st, err := app.OpenStore(cfg, logx.Nop())
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		recs, err := st.RecentFires(ctx, firesLimit)
		if err != nil {
			return err
		}

		t := newTable([]string{"AT", "TASK", "KIND", "TICK", "ELAPSED", "FIRES"})
		for _, r := range recs {
			t.addRow([]string{
				r.At.Format(time.RFC3339Nano),
				r.Task,
				r.Kind,
				strconv.FormatInt(r.Tick, 10),
				(time.Duration(r.ElapsedUS) * time.Microsecond).String(),
				strconv.FormatInt(r.Fires, 10),
			})
		}
		t.render()
		return nil
	},
}

func init() {
	firesCmd.Flags().IntVarP(&firesLimit, "limit", "n", 20, "number of fires to print")
}

// table prints aligned columns with a colored header.
type table struct {
	headers []string
	rows    [][]string
	widths  []int
}

func newTable(headers []string) *table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &table{headers: headers, widths: widths}
}

func (t *table) addRow(row []string) {
	for i, cell := range row {
		if i < len(t.widths) && len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
	t.rows = append(t.rows, row)
}

func (t *table) render() {
	header := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		header.Printf("%-*s  ", t.widths[i], h)
	}
	fmt.Println()
	for i := range t.headers {
		fmt.Print(strings.Repeat("-", t.widths[i]), "  ")
	}
	fmt.Println()
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Printf("%-*s  ", t.widths[i], cell)
			}
		}
		fmt.Println()
	}
}

// printRunStats prints the summary shown when run exits.
func printRunStats(st app.RunStats) {
	t := newTable([]string{"TASK", "STATUS", "FIRES"})
	for _, ts := range st.Tasks {
		t.addRow([]string{ts.Name, ts.Status.String(), strconv.FormatUint(ts.Fires, 10)})
	}
	t.render()

	fmt.Println()
	g := newTable([]string{"GOROUTINE", "STARTED", "RESTARTS", "PANICS", "LAST ERROR"})
	for _, s := range st.Goroutines {
		g.addRow([]string{s.Name, strconv.FormatUint(s.Started, 10), strconv.FormatUint(s.Restarts, 10), strconv.FormatUint(s.Panics, 10), s.LastErr})
	}
	g.render()

	line := fmt.Sprintf("\n%d tick(s), %d overrun(s), %d panic(s), max lag %s\n",
		st.Tick.Ticks, st.Tick.Overruns, st.Tick.Panics, st.Tick.MaxLag)
	if st.Tick.Overruns > 0 || st.Tick.Panics > 0 {
		color.New(color.FgYellow).Print(line)
		return
	}
	fmt.Print(line)
}
