package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/egostrategy/datahub/internal/service"
	"github.com/egostrategy/datahub/pkg/config"
	"github.com/egostrategy/datahub/pkg/logger"
	"github.com/egostrategy/datahub/pkg/models"
	"github.com/egostrategy/datahub/pkg/provider"
	"github.com/egostrategy/datahub/pkg/scraper"

	// Import all available scrapers to register them
	_ "github.com/egostrategy/datahub/pkg/scraper/sse"
	_ "github.com/egostrategy/datahub/pkg/scraper/szse"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "datahub",
		Short: "DataHub - Chinese A-share market data pipeline",
		Long: `DataHub scrapes daily stock quotes and kline histories from the Shanghai
and Shenzhen stock exchanges and maintains them in a single columnar
dataset file.`,
	}

	// Version command
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("DataHub v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	// List command to show available scrapers
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available exchange scrapers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available Scrapers:")
			for _, name := range scraper.List() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	// Scrape command
	var (
		configFile string
		exchange   string
		dateStr    string
		symbol     string
		maxRecords int
		forceFull  bool
		debug      bool
		debugLimit int
		logLevel   string
	)

	scrapeCmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape stock data and merge it into the dataset",
		Long: `Scrape the daily stock list of one or all exchanges and merge it into
the dataset. New stocks get their full kline history fetched; known
stocks get the day's record spliced in.

Example:
  datahub scrape --exchange all --date 2024-01-04`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-records") {
				cfg.MaxHistory = maxRecords
			}
			if cmd.Flags().Changed("debug-limit") {
				cfg.DebugStockLimit = debugLimit
			}
			cfg.ForceFullHistory = cfg.ForceFullHistory || forceFull
			cfg.DebugMode = cfg.DebugMode || debug
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := initLogger(logLevel, cfg.DebugMode); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runScrape(cfg, exchange, dateStr, symbol)
		},
	}
	scrapeCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file (optional)")
	scrapeCmd.Flags().StringVarP(&exchange, "exchange", "e", "all", "Exchange to scrape (sse, szse, all)")
	scrapeCmd.Flags().StringVarP(&dateStr, "date", "d", "", "Trading date as YYYYMMDD (default: today)")
	scrapeCmd.Flags().StringVarP(&symbol, "symbol", "s", "", "Process a single symbol instead of the full list")
	scrapeCmd.Flags().IntVar(&maxRecords, "max-records", config.DefaultMaxHistory, "Maximum kline records to retain per stock")
	scrapeCmd.Flags().BoolVar(&forceFull, "force-full", false, "Refetch the full history of every stock")
	scrapeCmd.Flags().BoolVar(&debug, "debug", false, "Debug mode: process only a few stocks per exchange")
	scrapeCmd.Flags().IntVar(&debugLimit, "debug-limit", 10, "Stocks per exchange in debug mode")
	scrapeCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.AddCommand(scrapeCmd)

	// Explore command
	var (
		exploreConfig   string
		exploreSymbol   string
		exploreExchange string
		exploreLimit    int
	)

	exploreCmd := &cobra.Command{
		Use:   "explore",
		Short: "Inspect the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(exploreConfig)
			if err != nil {
				return err
			}
			if err := initLogger("warn", false); err != nil {
				return err
			}
			return runExplore(cfg, exploreSymbol, exploreExchange, exploreLimit)
		},
	}
	exploreCmd.Flags().StringVarP(&exploreConfig, "config", "c", "", "Path to YAML configuration file (optional)")
	exploreCmd.Flags().StringVarP(&exploreSymbol, "symbol", "s", "", "Show one symbol's history")
	exploreCmd.Flags().StringVarP(&exploreExchange, "exchange", "e", "", "Restrict listing to one exchange code")
	exploreCmd.Flags().IntVar(&exploreLimit, "limit", 10, "Maximum history rows to print per stock")
	root.AddCommand(exploreCmd)

	// Sync command
	var syncConfig string

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the dataset file from a published mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(syncConfig)
			if err != nil {
				return err
			}
			if err := initLogger("info", false); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runSync(cfg)
		},
	}
	syncCmd.Flags().StringVarP(&syncConfig, "config", "c", "", "Path to YAML configuration file (optional)")
	root.AddCommand(syncCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	return config.Load(path)
}

func initLogger(level string, debug bool) error {
	if debug && level == "info" {
		level = "debug"
	}
	return logger.Init(logger.Config{
		Level:       level,
		Development: debug,
		Encoding:    "console",
		OutputPaths: []string{"stderr"},
	})
}

// scraperNames maps the --exchange flag to registry names.
func scraperNames(exchange string) ([]string, error) {
	switch exchange {
	case "all":
		return scraper.List(), nil
	case "sse", "szse":
		return []string{exchange}, nil
	default:
		return nil, fmt.Errorf("unknown exchange %q (want sse, szse, or all)", exchange)
	}
}

func runScrape(cfg *config.Config, exchange, dateStr, symbol string) error {
	names, err := scraperNames(exchange)
	if err != nil {
		return err
	}

	scrapers := make([]scraper.Scraper, 0, len(names))
	for _, name := range names {
		sc, err := scraper.Create(name, cfg)
		if err != nil {
			return err
		}
		scrapers = append(scrapers, sc)
	}

	date := time.Now()
	if dateStr != "" {
		di, err := models.ParseDateString(dateStr)
		if err != nil {
			return err
		}
		if date, err = models.IntToDate(di); err != nil {
			return err
		}
	}

	log := logger.Get().With(
		zap.String("exchange", exchange),
		zap.Int32("date", models.DateToInt(date)))
	log.Info("starting scrape")

	ctx := context.Background()
	svc := service.New(cfg, scrapers)

	if symbol != "" {
		if err := svc.ProcessSingleStock(ctx, symbol, date); err != nil {
			return err
		}
	} else if err := svc.ProcessDailyStocks(ctx, date); err != nil {
		return err
	}

	log.Info("scrape complete", zap.String("data_file", svc.DataPath()))
	return nil
}

func runExplore(cfg *config.Config, symbol, exchange string, limit int) error {
	svc := service.New(cfg, nil)
	p, err := svc.LoadProvider()
	if err != nil {
		return err
	}

	if symbol != "" {
		stock, ok := p.StockBySymbol(symbol)
		if !ok {
			return fmt.Errorf("symbol %s not in dataset", symbol)
		}
		printStock(stock, limit)
		return nil
	}

	fmt.Printf("Dataset: %s\n", svc.DataPath())
	fmt.Printf("Stocks: %d\n", p.Len())
	fmt.Printf("Latest trading date: %d\n\n", p.LatestTradingDate())

	if exchange != "" {
		for _, stock := range p.StocksByExchange(exchange) {
			fmt.Printf("  %-8s %-10s %s  (%d records, latest %d)\n",
				stock.Exchange, stock.Symbol, stock.Name, len(stock.Daily), stock.LatestDate())
		}
	}
	return nil
}

func printStock(stock *models.Stock, limit int) {
	fmt.Printf("%s:%s  %s\n", stock.Exchange, stock.Symbol, stock.Name)
	fmt.Printf("%-10s %9s %9s %9s %9s %12s %14s\n",
		"date", "open", "high", "low", "close", "volume", "amount")
	for i, d := range stock.Daily {
		if i >= limit {
			fmt.Printf("... %d more records\n", len(stock.Daily)-limit)
			break
		}
		fmt.Printf("%-10d %9.2f %9.2f %9.2f %9.2f %12d %14d\n",
			d.Date, d.Open, d.High, d.Low, d.Close, d.Volume, d.Amount)
	}
}

func runSync(cfg *config.Config) error {
	urls := make([]string, 0, len(cfg.MirrorSites))
	for _, host := range cfg.MirrorSites {
		urls = append(urls, provider.MirrorURL(host))
	}

	syncer := provider.NewMirrorSyncer(cfg.RequestTimeout)
	localPath := service.New(cfg, nil).DataPath()
	if err := syncer.Sync(context.Background(), localPath, urls); err != nil {
		return err
	}
	fmt.Printf("dataset synced to %s\n", localPath)
	return nil
}
