package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/chrissnell/gwrecharge/internal/app"
	"github.com/chrissnell/gwrecharge/internal/engine"
	"github.com/chrissnell/gwrecharge/internal/export"
	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/mrc"
	"github.com/chrissnell/gwrecharge/internal/store"
	"github.com/chrissnell/gwrecharge/internal/types"
	"github.com/chrissnell/gwrecharge/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "gwrecharge.yaml", "Path to the YAML configuration file")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	serve := flag.Bool("serve", false, "Serve calibrations over REST instead of running once")
	sy := flag.Float64("sy", 0, "Specific yield; overrides calibration.specific-yield")
	cruList := flag.String("cru", "", "Comma-separated runoff coefficients: fit RASmax at each instead of searching")
	exportPath := flag.String("export", "", "Write the calibrated hydrograph as a tab-delimited file")
	budgetPath := flag.String("budget", "", "Write the yearly water budget as a tab-delimited file")
	runMRC := flag.Bool("mrc", false, "Also print water-table fluctuation recharge from the hydrograph")
	save := flag.Bool("save", false, "Store the calibration in the configured SQLite database")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gwrecharge %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	filename, _ := filepath.Abs(*cfgFile)
	provider := config.NewYAMLProvider(filename)
	cfg, err := provider.LoadConfig()
	if err != nil {
		log.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %v", err)
		os.Exit(1)
	}

	application := app.New(provider, log.GetSugaredLogger())

	if *serve || cfg.Server.Enabled {
		if err := application.Run(context.Background()); err != nil {
			log.Errorf("Application error: %v", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := oneShot{
		sy:         cfg.Calibration.SpecificYield,
		exportPath: *exportPath,
		budgetPath: *budgetPath,
		mrc:        *runMRC,
		column:     cfg.Calibration.SoilColumn,
	}
	if *sy != 0 {
		opts.sy = *sy
	}
	if *save {
		opts.dbPath = cfg.Storage.SQLite.Path
	}
	if *cruList != "" {
		opts.crus, err = parseCruList(*cruList)
		if err != nil {
			log.Errorf("bad -cru: %v", err)
			os.Exit(1)
		}
	}

	eng, err := application.Engine(ctx)
	if err != nil {
		log.Errorf("Failed to prepare calibration: %v", err)
		os.Exit(1)
	}

	if err := opts.run(ctx, eng, os.Stdout); err != nil {
		log.Errorf("Calibration failed: %v", err)
		os.Exit(1)
	}
}

// oneShot runs a single calibration or Cru comparison from the command line
type oneShot struct {
	sy         float64
	crus       []float64
	exportPath string
	budgetPath string
	dbPath     string
	mrc        bool
	column     *config.SoilColumnData
}

func (o oneShot) run(ctx context.Context, eng *engine.Engine, out io.Writer) error {
	if o.mrc {
		if err := o.printMRC(eng, out); err != nil {
			return err
		}
	}

	if len(o.crus) > 0 {
		fits, err := eng.MultiFit(ctx, o.sy, o.crus)
		if err != nil {
			return err
		}
		return printFits(out, o.sy, fits)
	}

	result, err := eng.Run(ctx, o.sy)
	if err != nil {
		return err
	}

	if o.dbPath != "" {
		runs, err := store.Open(o.dbPath, log.Named("store"))
		if err != nil {
			return err
		}
		defer runs.Close()
		if _, err := runs.Save(ctx, result); err != nil {
			return err
		}
	}

	if err := printResult(out, result); err != nil {
		return err
	}

	if o.exportPath != "" {
		if err := writeFile(o.exportPath, func(w io.Writer) error { return export.Write(w, result) }); err != nil {
			return err
		}
		log.Infof("wrote hydrograph to %s", o.exportPath)
	}

	if o.budgetPath != "" {
		years, err := eng.WaterBudget(result)
		if err != nil {
			return err
		}
		if err := writeFile(o.budgetPath, func(w io.Writer) error { return export.WriteBudget(w, years) }); err != nil {
			return err
		}
		log.Infof("wrote water budget to %s", o.budgetPath)
	}
	return nil
}

func (o oneShot) printMRC(eng *engine.Engine, out io.Writer) error {
	col := mrc.Uniform(100, o.sy)
	if o.column != nil {
		col = mrc.Column{Depths: o.column.Depths, Sy: o.column.Sy}
	}
	periods, err := eng.MRCRecharge(col)
	if err != nil {
		return err
	}

	var total float64
	for _, p := range periods {
		total += p.Recharge
	}
	days := types.DaysBetween(periods[0].Start, periods[len(periods)-1].End)
	fmt.Fprintf(out, "MRC recharge: %.0f mm over %d days (%.0f mm/y)\n\n", total, days, total/float64(days)*365)
	return nil
}

func printResult(out io.Writer, r *types.CalibrationResult) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if r.ID != "" {
		fmt.Fprintf(tw, "Run\t%s\n", r.ID)
	}
	fmt.Fprintf(tw, "Window\t%s to %s (%d days)\n",
		r.Dates[0].Format("2006-01-02"), r.Dates[len(r.Dates)-1].Format("2006-01-02"), len(r.Dates))
	fmt.Fprintf(tw, "Sy\t%.2f\n", r.Sy)
	fmt.Fprintf(tw, "Cru\t%.2f\n", r.Best.Cru)
	fmt.Fprintf(tw, "RASmax (mm)\t%.0f\n", r.Best.RASmax)
	fmt.Fprintf(tw, "RMSE (mm)\t%.0f\n", r.Best.RMSE)
	fmt.Fprintf(tw, "NSE\t%.2f\n", r.Best.NSE)
	fmt.Fprintf(tw, "Recharge (mm/y)\t%.0f\n", r.Best.MeanAnnualRecharge)
	fmt.Fprintf(tw, "Solver\t%s after %d iterations\n", r.Best.Status, r.Best.Iterations)
	return tw.Flush()
}

func printFits(out io.Writer, sy float64, fits []types.FitResult) error {
	fmt.Fprintf(out, "Sy=%.2f\n", sy)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Cru\tRASmax (mm)\tRMSE (mm)\tNSE\tRechg (mm/y)\tStatus\t")
	for _, f := range fits {
		fmt.Fprintf(tw, "%.2f\t%.0f\t%.1f\t%.2f\t%.0f\t%s\t\n",
			f.Cru, f.RASmax, f.RMSE, f.NSE, f.MeanAnnualRecharge, f.Status)
	}
	return tw.Flush()
}

func parseCruList(s string) ([]float64, error) {
	var crus []float64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", field)
		}
		crus = append(crus, v)
	}
	if len(crus) == 0 {
		return nil, fmt.Errorf("no runoff coefficient in %q", s)
	}
	return crus, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
