// mkresults generates race results from recorded chalkline crossings. The
// race is described by a keyword config file; riders are pulled from the
// position archive, filtered to legitimate starters, trimmed for wrong-way
// riding and crashes, grouped, placed and rendered as text, JSON, or a
// template-driven HTML page or SQL script.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/wiedmann/zlogger/internal/config"
	"github.com/wiedmann/zlogger/internal/domain"
	"github.com/wiedmann/zlogger/internal/output"
	"github.com/wiedmann/zlogger/internal/postgres"
	"github.com/wiedmann/zlogger/internal/raceconfig"
	"github.com/wiedmann/zlogger/internal/results"
)

func main() {
	var (
		configPath = flag.String("c", config.ResolvePath(), "config file")
		asJSON     = flag.Bool("j", false, "dump results as JSON")
		split      = flag.Bool("s", false, "show split times at every crossing")
		idlist     = flag.Bool("I", false, "print starter rider ids and exit")
		ident      = flag.Bool("i", false, "include rider ids and crossing stamps")
		updateCat  = flag.Bool("u", false, "write estimated categories back for uncategorized riders")
		resultFile = flag.Bool("r", false, "write results to <id>.<date>.txt|json")
		noCat      = flag.Bool("n", false, "ignore rider categories, bucket by start group")
		outputSpec = flag.String("output", "", "field-mapping document for HTML/SQL output")
		debug      = flag.Bool("d", false, "debug logging")

		creds postgres.Credentials
	)
	flag.StringVar(&creds.Database, "D", "zlogger", "database name")
	flag.StringVar(&creds.Host, "H", "", "database host")
	flag.StringVar(&creds.User, "U", "", "database user")
	flag.StringVar(&creds.Password, "P", "", "database password")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mkresults [flags] <race-config>")
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *configPath, creds, options{
		json:       *asJSON,
		split:      *split,
		idlist:     *idlist,
		ident:      *ident,
		updateCat:  *updateCat,
		resultFile: *resultFile,
		noCat:      *noCat,
		outputSpec: *outputSpec,
	}); err != nil {
		slog.Error("mkresults failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	json       bool
	split      bool
	idlist     bool
	ident      bool
	updateCat  bool
	resultFile bool
	noCat      bool
	outputSpec string
}

func run(racePath, configPath string, creds postgres.Credentials, opt options) error {
	conf, err := raceconfig.Parse(racePath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = creds.URL()
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	chalklines := postgres.NewChalklineStore(pool)
	engine := results.Engine{Conf: conf, NoCat: opt.noCat}
	if engine.StartLineID, err = chalklines.FindLine(ctx, conf.StartLine); err != nil {
		return fmt.Errorf("start line: %w", err)
	}
	if engine.FinishLineID, err = chalklines.FindLine(ctx, conf.FinishLine); err != nil {
		return fmt.Errorf("finish line: %w", err)
	}
	if conf.CorralLine != "" {
		if engine.CorralLineID, err = chalklines.FindLine(ctx, conf.CorralLine); err != nil {
			return fmt.Errorf("corral line: %w", err)
		}
	}
	slog.Debug("start", "forward", conf.StartForward, "line", engine.StartLineID, "name", conf.StartLine)
	slog.Debug("finish", "forward", conf.FinishForward, "line", engine.FinishLineID, "name", conf.FinishLine)
	slog.Debug("window", "start_ms", conf.StartMS, "finish_ms", conf.FinishMS)

	// Look back before the official start to catch riders who crossed the
	// start line early.
	positions, err := postgres.NewPositionStore(pool).
		RidersInRange(ctx, conf.StartMS-results.LookbackMS, conf.FinishMS)
	if err != nil {
		return err
	}
	slog.Debug("selected riders", "count", len(positions))

	riderStore := postgres.NewRiderStore(pool)
	riders := engine.Run(positions, func(id int64) *domain.RiderProfile {
		p, err := riderStore.Get(ctx, id)
		if err != nil {
			slog.Warn("rider lookup", "rider", id, "error", err)
		}
		return p
	})

	// Feed for the external profile fetcher: ids of everyone who started.
	if opt.idlist {
		for _, r := range riders {
			fmt.Println(r.ID)
		}
		return nil
	}

	if opt.updateCat {
		for _, r := range riders {
			if r.Cat != "X" || r.DQ || r.DNF {
				continue
			}
			if err := riderStore.UpdateCat(ctx, r.ID, r.ECat); err != nil {
				return fmt.Errorf("update cat for %d: %w", r.ID, err)
			}
		}
	}

	var out io.Writer = os.Stdout
	if opt.resultFile {
		name := conf.ID + "." + conf.Date + ".txt"
		if opt.json {
			name = conf.ID + "." + conf.Date + ".json"
		}
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		slog.Info("writing results", "file", name)
		out = f
	}

	if opt.outputSpec != "" {
		tmpl, err := output.Load(opt.outputSpec)
		if err != nil {
			return err
		}
		race := output.RaceInfo{ID: conf.ID, Name: conf.Name, Date: conf.Date}
		if tmpl.Output == "sql" {
			return tmpl.WriteSQL(out, race, riders)
		}
		return tmpl.WriteHTML(out, race, riders)
	}

	if opt.json {
		return engine.WriteJSON(out, riders, opt.split)
	}
	engine.WriteText(out, riders, results.TextOptions{Split: opt.split, Ident: opt.ident})
	return nil
}
