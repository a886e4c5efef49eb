package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/PentesterFlow/webcrawler/internal/identity"
	"github.com/PentesterFlow/webcrawler/internal/logger"
	"github.com/PentesterFlow/webcrawler/internal/progress"
	"github.com/PentesterFlow/webcrawler/internal/shutdown"
	"github.com/PentesterFlow/webcrawler/internal/state"
	"github.com/PentesterFlow/webcrawler/pkg/crawler"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	logFile    string
	verbose    bool
	debug      bool

	// Crawl flags
	maxDepth           int
	maxPages           int
	interval           float64
	settleDelay        int
	outputDir          string
	noScreenshots      bool
	respectRobots      bool
	stateFile          string
	checkpointInterval int
	sqlitePath         string

	// Browser flags
	headless bool
	slowMo   int
	engine   string
	stealth  bool

	// Identity flags
	userAgent     string
	userAgentFile string
	proxyServer   string
	proxyFile     string
	rotateEvery   int

	// Extraction flags
	extractorName    string
	linksName        string
	priorityPatterns []string

	// Rate limit flags
	rateLimit float64
	burst     int

	// Display flags
	showProgress bool
	noProgress   bool
	jsonStatus   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "webcrawler",
		Short: "webcrawler - Headless Browser Crawler",
		Long: `webcrawler - A breadth-first crawler that renders every page in a headless browser.

Pages are visited level by level within a depth and page budget, links are followed on
the start host only, and each page is turned into a record in a JSON report. Proxies and
user agents can be rotated every few pages.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Crawl command
	crawlCmd := &cobra.Command{
		Use:   "crawl [url]",
		Short: "Crawl a start URL",
		Long:  "Crawl a start URL breadth-first and write the extracted records to the output directory.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}

	// Resume command
	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted crawl",
		Long:  "Resume a previously interrupted crawl from a saved state file.",
		RunE:  runResume,
	}

	// Status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show crawl status",
		Long:  "Show the progress recorded in a state file.",
		RunE:  runStatus,
	}

	// Proxies command
	proxiesCmd := &cobra.Command{
		Use:   "proxies",
		Short: "Proxy list helpers",
	}
	proxiesExampleCmd := &cobra.Command{
		Use:   "example [path]",
		Short: "Write an example proxy list",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runProxiesExample,
	}
	proxiesCmd.AddCommand(proxiesExampleCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (default: $XDG_CONFIG_HOME/webcrawler/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also append JSON log lines to this file")

	// Crawl flags
	crawlCmd.Flags().IntVarP(&maxDepth, "max-depth", "d", 3, "Maximum link depth from the start URL")
	crawlCmd.Flags().IntVarP(&maxPages, "max-pages", "m", 100, "Maximum number of pages to process")
	crawlCmd.Flags().Float64VarP(&interval, "interval", "i", 1.0, "Pause after every page in seconds")
	crawlCmd.Flags().IntVar(&settleDelay, "settle-delay", 1000, "Wait after navigation in milliseconds")
	crawlCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "output", "Directory for the report and screenshots")
	crawlCmd.Flags().BoolVar(&noScreenshots, "no-screenshots", false, "Do not capture page screenshots")
	crawlCmd.Flags().BoolVar(&respectRobots, "respect-robots", false, "Respect robots.txt")
	crawlCmd.Flags().StringVar(&stateFile, "state-file", "", "State file for checkpoints")
	crawlCmd.Flags().IntVar(&checkpointInterval, "checkpoint-interval", 10, "Pages between checkpoints")
	crawlCmd.Flags().StringVar(&sqlitePath, "sqlite", "", "Also store the report in a SQLite database")

	// Browser flags
	crawlCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser without a window")
	crawlCmd.Flags().IntVar(&slowMo, "slow-mo", 0, "Delay browser operations by this many milliseconds")
	crawlCmd.Flags().StringVar(&engine, "engine", "chromium", "Browser engine")
	crawlCmd.Flags().BoolVar(&stealth, "stealth", false, "Hide common headless browser fingerprints")

	// Identity flags
	crawlCmd.Flags().StringVarP(&userAgent, "user-agent", "u", "", "User agent of the first session")
	crawlCmd.Flags().StringVar(&userAgentFile, "user-agent-file", "", "File with one user agent per line")
	crawlCmd.Flags().StringVar(&proxyServer, "proxy", "", "Proxy used for the whole crawl")
	crawlCmd.Flags().StringVarP(&proxyFile, "proxy-file", "p", "", "JSON or YAML proxy list to rotate through")
	crawlCmd.Flags().IntVar(&rotateEvery, "rotate-every", 10, "Pages served by one identity before rotating")

	// Extraction flags
	crawlCmd.Flags().StringVar(&extractorName, "extractor", "default", "Record extractor (default, product)")
	crawlCmd.Flags().StringVar(&linksName, "links", "script", "Link discovery (script, html)")
	crawlCmd.Flags().StringArrayVar(&priorityPatterns, "priority", nil, "URL substrings crawled first within a page's links")

	// Rate limit flags
	crawlCmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 0, "Maximum navigations per second (0 disables)")
	crawlCmd.Flags().IntVar(&burst, "burst", 1, "Navigation burst size")

	// Display flags
	for _, cmd := range []*cobra.Command{crawlCmd, resumeCmd} {
		cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress bar during crawling")
		cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar (use verbose logging instead)")
	}

	// Resume flags
	resumeCmd.Flags().StringVar(&stateFile, "state-file", "", "State file to resume from")
	resumeCmd.MarkFlagRequired("state-file")

	// Status flags
	statusCmd.Flags().StringVar(&stateFile, "state-file", "", "State file to check")
	statusCmd.Flags().BoolVar(&jsonStatus, "json", false, "Print the status as JSON")
	statusCmd.MarkFlagRequired("state-file")

	// Add commands
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(proxiesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	target := args[0]

	config, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyEnv(config); err != nil {
		return err
	}
	applyFlags(cmd, config)

	enableProgress := showProgress && !noProgress && !config.Verbose && !config.Debug

	log, err := openLogger(config)
	if err != nil {
		return err
	}
	defer log.Close()

	c, err := crawler.New(
		crawler.WithConfig(config),
		crawler.WithLogger(log),
		crawler.WithProgress(enableProgress),
	)
	if err != nil {
		return fmt.Errorf("failed to create crawler: %w", err)
	}

	if !enableProgress {
		printBanner(target, config)
	}

	return execute(cmd.Context(), target, log, func(ctx context.Context) (*crawler.Result, error) {
		return c.Run(ctx, target)
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	store, err := state.NewBoltStore(stateFile)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}
	cp, err := store.Load()
	store.Close()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if cp == nil {
		return fmt.Errorf("no checkpoint in %s", stateFile)
	}

	config, err := crawler.ConfigFromCheckpoint(cp)
	if err != nil {
		return err
	}
	config.State.FilePath = stateFile
	config.Verbose = config.Verbose || verbose
	config.Debug = config.Debug || debug

	enableProgress := showProgress && !noProgress && !config.Verbose && !config.Debug

	log, err := openLogger(config)
	if err != nil {
		return err
	}
	defer log.Close()

	c, err := crawler.New(
		crawler.WithConfig(config),
		crawler.WithLogger(log),
		crawler.WithProgress(enableProgress),
	)
	if err != nil {
		return fmt.Errorf("failed to create crawler: %w", err)
	}

	fmt.Printf("Resuming crawl of %s from %s\n", cp.StartURL, stateFile)

	return execute(cmd.Context(), cp.StartURL, log, c.Resume)
}

// execute runs a crawl under signal handling and prints its summary.
func execute(parent context.Context, target string, log *logger.Logger, run func(context.Context) (*crawler.Result, error)) error {
	h := shutdown.New(shutdown.Config{
		Parent: parent,
		OnInterrupt: func(sig os.Signal) {
			fmt.Fprintf(os.Stderr, "\nReceived %v, stopping after the current page (again to force quit)...\n", sig)
		},
		OnForce: func(os.Signal) {
			fmt.Fprintln(os.Stderr, "\nForced exit, the report was not written")
		},
	})
	defer h.Stop()
	h.Register("log file", func(context.Context) error { return log.Close() })
	defer func() {
		for _, err := range h.Cleanup() {
			fmt.Fprintf(os.Stderr, "Cleanup: %v\n", err)
		}
	}()

	result, err := run(h.Context())
	if result == nil {
		if err != nil {
			return fmt.Errorf("crawl failed: %w", err)
		}
		return nil
	}

	progress.PrintSummary(os.Stdout, progress.Summary{
		Target:      target,
		Duration:    result.Duration(),
		Visited:     result.Stats.Visited,
		Processed:   result.Stats.Processed,
		Records:     len(result.Records),
		Failed:      result.Stats.Failed,
		Rotations:   result.Stats.Rotations,
		OutputPath:  result.OutputPath,
		Interrupted: result.Interrupted,
	})

	if result.Interrupted && result.Resumable {
		fmt.Println("  Resume with: webcrawler resume --state-file <state file>")
		fmt.Println()
	}

	if err != nil {
		return fmt.Errorf("crawl finished with errors: %w", err)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := state.NewBoltStore(stateFile)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}
	defer store.Close()

	cp, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if cp == nil {
		fmt.Printf("State file: %s\n", stateFile)
		fmt.Println("Status: no checkpoint saved")
		return nil
	}

	summary := cp.Summarize()
	if jsonStatus {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	status := "interrupted"
	switch {
	case summary.Completed:
		status = "completed"
	case !cp.Resumable():
		status = "finished (budget exhausted)"
	}

	fmt.Printf("State file:   %s\n", stateFile)
	fmt.Printf("Start URL:    %s\n", summary.StartURL)
	fmt.Printf("Status:       %s\n", status)
	fmt.Printf("Depth:        %d\n", summary.Depth)
	fmt.Printf("Visited:      %d\n", summary.Visited)
	fmt.Printf("Processed:    %d\n", summary.Processed)
	fmt.Printf("Pending:      %d\n", summary.Pending)
	fmt.Printf("Records:      %d\n", summary.Records)
	fmt.Printf("Failed:       %d\n", summary.Failed)
	fmt.Printf("Saved at:     %s\n", summary.SavedAt.Format(time.RFC3339))
	return nil
}

func runProxiesExample(cmd *cobra.Command, args []string) error {
	path := "proxies.json"
	if len(args) == 1 {
		path = args[0]
	}
	if err := identity.WriteExampleProxies(path); err != nil {
		return err
	}
	fmt.Printf("Example proxy list written to %s\n", path)
	return nil
}

// openLogger builds the run's logger, teeing to --log-file when given.
func openLogger(config *crawler.Config) (*logger.Logger, error) {
	log, err := logger.Open(logger.Config{
		Level:     logger.LevelFor(config.Verbose, config.Debug),
		Pretty:    true,
		Component: "crawler",
		File:      logFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return log, nil
}

// loadConfig reads --config, or the user's config file when one exists.
func loadConfig() (*crawler.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.SearchConfigFile("webcrawler/config.yaml")
		if err != nil {
			return crawler.DefaultConfig(), nil
		}
		path = found
	}

	config, err := crawler.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return config, nil
}

// applyEnv applies HEADLESS, SLOW_MO and USER_AGENT.
func applyEnv(config *crawler.Config) error {
	if v := strings.TrimSpace(os.Getenv("HEADLESS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HEADLESS value %q: %w", v, err)
		}
		config.Browser.Headless = b
	}
	if v := strings.TrimSpace(os.Getenv("SLOW_MO")); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SLOW_MO value %q: %w", v, err)
		}
		config.Browser.SlowMoMs = ms
	}
	if v := strings.TrimSpace(os.Getenv("USER_AGENT")); v != "" {
		config.Identity.UserAgent = v
	}
	return nil
}

// applyFlags overrides config with the flags given on the command line.
func applyFlags(cmd *cobra.Command, config *crawler.Config) {
	flags := cmd.Flags()

	if flags.Changed("max-depth") {
		config.MaxDepth = maxDepth
	}
	if flags.Changed("max-pages") {
		config.MaxPages = maxPages
	}
	if flags.Changed("interval") {
		config.RequestInterval = interval
	}
	if flags.Changed("settle-delay") {
		config.SettleDelayMs = settleDelay
	}
	if flags.Changed("output-dir") {
		config.OutputDir = outputDir
	}
	if noScreenshots {
		config.Screenshots = false
	}
	if flags.Changed("respect-robots") {
		config.RespectRobotsTxt = respectRobots
	}
	if flags.Changed("state-file") {
		config.State.FilePath = stateFile
	}
	if flags.Changed("checkpoint-interval") {
		config.State.Interval = checkpointInterval
	}
	if flags.Changed("sqlite") {
		config.Output.SQLitePath = sqlitePath
	}

	if flags.Changed("headless") {
		config.Browser.Headless = headless
	}
	if flags.Changed("slow-mo") {
		config.Browser.SlowMoMs = slowMo
	}
	if flags.Changed("engine") {
		config.Browser.Engine = engine
	}
	if flags.Changed("stealth") {
		config.Browser.Stealth = stealth
	}

	if flags.Changed("user-agent") {
		config.Identity.UserAgent = userAgent
	}
	if flags.Changed("user-agent-file") {
		config.Identity.UserAgentFile = userAgentFile
	}
	if flags.Changed("proxy") {
		config.Identity.Proxy = &identity.Proxy{Server: proxyServer}
	}
	if flags.Changed("proxy-file") {
		config.Identity.ProxyFile = proxyFile
	}
	if flags.Changed("rotate-every") {
		config.Identity.RotateEvery = rotateEvery
	}

	if flags.Changed("extractor") {
		config.Extraction.Extractor = extractorName
	}
	if flags.Changed("links") {
		config.Extraction.Links = linksName
	}
	if flags.Changed("priority") {
		config.Extraction.PriorityPatterns = priorityPatterns
	}

	if flags.Changed("rate-limit") {
		config.RateLimit.RequestsPerSecond = rateLimit
	}
	if flags.Changed("burst") {
		config.RateLimit.Burst = burst
	}

	config.Verbose = config.Verbose || verbose
	config.Debug = config.Debug || debug
}

func printBanner(target string, config *crawler.Config) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      webcrawler v1.0                         ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Target:       %s\n", target)
	fmt.Printf("Max Depth:    %d\n", config.MaxDepth)
	fmt.Printf("Max Pages:    %d\n", config.MaxPages)
	fmt.Printf("Interval:     %.1fs\n", config.RequestInterval)
	if config.Identity.ProxyFile != "" {
		fmt.Printf("Proxies:      %s (rotate every %d pages)\n", config.Identity.ProxyFile, config.Identity.RotateEvery)
	}
	fmt.Println()
	fmt.Println("Starting crawl...")
	fmt.Println()
}
