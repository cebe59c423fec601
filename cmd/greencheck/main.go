package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/dropzone"
	"greencheck-workspace/internal/pipeline"
	"greencheck-workspace/internal/report"
	"greencheck-workspace/internal/shared/config"
	localstore "greencheck-workspace/internal/shared/storage/object/local"
	"greencheck-workspace/internal/shared/telemetry"
	"greencheck-workspace/internal/workspace"
)

const maxFileSize = 10 << 20

func main() {
	os.Exit(run())
}

// run holds the program so deferred cleanup happens before the exit code is
// returned.
func run() int {
	cfg := config.Load()
	telemetry.Setup(cfg.LogFile)
	defer telemetry.Sync()

	email := flag.String("email", os.Getenv("GREENCHECK_EMAIL"), "Account email (or GREENCHECK_EMAIL)")
	password := flag.String("password", os.Getenv("GREENCHECK_PASSWORD"), "Account password (or GREENCHECK_PASSWORD)")
	export := flag.Bool("report", false, "Export a PDF report to REPORT_DIR after each analysis")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 || (args[0] != "analyze" && args[0] != "watch") {
		flag.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := apiclient.New(cfg.APIBaseURL, cfg.HTTPTimeout)
	if err != nil {
		return fail(fmt.Sprintf("api client: %v", err))
	}
	var reports *report.Store
	if *export {
		reports = report.NewStore(localstore.New(cfg.ReportDir))
	}
	ctl := workspace.New("cli", client, pipeline.OptionsFromConfig(cfg), nil)
	defer ctl.Close()

	if strings.TrimSpace(*email) != "" {
		if _, err := ctl.Login(ctx, *email, *password); err != nil {
			return fail("sign in: " + errorMessage(err))
		}
	} else {
		ctl.Init(ctx)
	}

	if args[0] == "analyze" {
		if err := analyzePath(ctx, ctl, args[1], reports, os.Stdout); err != nil {
			return 1
		}
		return 0
	}

	w, err := dropzone.New(dropzone.Options{MaxPerMinute: cfg.WatchMaxPerMinute})
	if err != nil {
		return fail(fmt.Sprintf("watcher: %v", err))
	}
	printInfo(os.Stdout, "Watching %s for new ads (Ctrl+C to stop)", args[1])
	err = w.Run(ctx, args[1], func(ctx context.Context, item dropzone.Item) {
		_ = analyzePath(ctx, ctl, item.Path, reports, os.Stdout)
	})
	if err != nil {
		return fail(fmt.Sprintf("watch %s: %v", args[1], err))
	}
	return 0
}

// analyzePath runs one file through the workspace and prints the outcome.
// Text files are pasted; everything else is uploaded for OCR. A non-nil
// reports store exports the PDF report and keeps it there.
func analyzePath(ctx context.Context, ctl *workspace.Controller, path string, reports *report.Store, out io.Writer) error {
	name := filepath.Base(path)
	data, err := readFile(path)
	if err != nil {
		printError(out, name, err)
		return err
	}

	if strings.EqualFold(filepath.Ext(name), ".txt") {
		ctl.Reset()
		if _, err := ctl.SetText(string(data)); err != nil {
			printError(out, name, err)
			return err
		}
	} else {
		file := apiclient.NewFile(name, "", data)
		if !workspace.SupportedUpload(file.ContentType) {
			err := fmt.Errorf("unsupported file type %s", file.ContentType)
			printError(out, name, err)
			return err
		}
		ctl.SelectFile(file)
	}

	st, err := ctl.RunAnalysis(ctx)
	if err != nil {
		printError(out, name, err)
		return err
	}
	printResult(out, name, st.Job.Analysis, st.Banner)

	if reports == nil {
		return nil
	}
	rep, _, err := ctl.ExportReport(ctx)
	if err != nil {
		printError(out, name, err)
		return err
	}
	obj, err := reports.Save(ctx, "cli", rep)
	if err != nil {
		printError(out, name, err)
		return err
	}
	printInfo(out, "Report %s saved to %s (%d pages)", rep.Filename, obj.Key, rep.Pages)
	return nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("file is larger than %d MB", maxFileSize>>20)
	}
	return os.ReadFile(path)
}

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage:\n  greencheck [flags] analyze <file>\n  greencheck [flags] watch <dir>\n\nFlags:\n")
	flag.PrintDefaults()
}

func fail(msg string) int {
	fmt.Fprintln(os.Stderr, msg)
	return 1
}
