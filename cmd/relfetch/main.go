package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/releasekit/relfetch/internal/browser"
	"github.com/releasekit/relfetch/internal/catalog"
	"github.com/releasekit/relfetch/internal/config"
	"github.com/releasekit/relfetch/internal/extractor"
	"github.com/releasekit/relfetch/internal/fetcher"
	"github.com/releasekit/relfetch/internal/journal"
	"github.com/releasekit/relfetch/internal/logger"
	"github.com/releasekit/relfetch/internal/pipeline"
	"github.com/releasekit/relfetch/internal/resolver"
)

const version = "0.3.0"

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	catalog  *catalog.Catalog
	journal  *journal.Store
	pipeline *pipeline.Pipeline
}

var (
	configPath string
	theApp     *app
)

func main() {
	root := &cobra.Command{
		Use:           "relfetch",
		Short:         "Resolve, download, and verify vendor release artifacts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	root.AddCommand(newFetchCmd(), newChecksumCmd(), newListCmd(), newHistoryCmd())

	err := root.Execute()
	if theApp != nil {
		theApp.close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and wires the pipeline. Called from each
// subcommand's RunE so --help never needs a config file.
func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	log := logger.GetZapLogger()

	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	var jnl *journal.Store
	if cfg.Journal.Path != "" {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
	}

	sessions := browser.Factory(func(ctx context.Context) (browser.Session, error) {
		return browser.NewChromeSession(ctx, log, cfg.Browser.GetHeadless())
	})

	res := resolver.New(resolver.Config{
		PageURL:            cfg.Vendor.PageURL,
		FilePrefix:         cfg.Vendor.FilePrefix,
		ArchiveExt:         cfg.Vendor.ArchiveExt,
		BinaryContentTypes: cfg.Vendor.BinaryContentTypes,
		ControlSelector:    cfg.Vendor.DownloadControlSelector,
		SettleTimeout:      cfg.Browser.GetSettleTimeout(),
		CaptureWindow:      cfg.Browser.GetCaptureWindow(),
	}, sessions, log)

	ext := extractor.New(extractor.Config{
		PageURL:          cfg.Vendor.PageURL,
		ControlSelector:  cfg.Vendor.ChecksumControlSelector,
		SettleTimeout:    cfg.Browser.GetSettleTimeout(),
		DialogTimeout:    cfg.Browser.GetDialogTimeout(),
		ClipboardTimeout: cfg.Browser.GetClipboardTimeout(),
	}, sessions, log)

	fet := fetcher.New(log, cfg.Fetch.GetRequestTimeout(), cfg.Fetch.GetBufferSize())

	var pipeJournal pipeline.Journal
	if jnl != nil {
		pipeJournal = jnl
	}

	theApp = &app{
		cfg:      cfg,
		log:      log,
		catalog:  cat,
		journal:  jnl,
		pipeline: pipeline.New(cat, res, ext, fet, pipeJournal, log),
	}
	return theApp, nil
}

func (a *app) close() {
	if a.journal != nil {
		a.journal.Close()
	}
	logger.Sync()
}

// defaultOutputPath builds the conventional artifact name for a version.
func defaultOutputPath(cfg *config.Config, version string) string {
	return fmt.Sprintf("%s-%s%s", cfg.Vendor.FilePrefix, version, cfg.Vendor.ArchiveExt)
}
