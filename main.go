package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"autoclip/internal/browser"
	"autoclip/internal/config"
	"autoclip/internal/fetcher"
	"autoclip/internal/formatter"
	"autoclip/internal/login"
	"autoclip/internal/navigator"
	"autoclip/internal/observability"
	"autoclip/internal/rank"
	"autoclip/internal/report"
	"autoclip/internal/server"
	"autoclip/internal/session"
	"autoclip/internal/sites/coupang"
	"autoclip/internal/sites/naver"
	"autoclip/internal/tags"
	"autoclip/internal/workflow"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

var (
	configFile   string
	showUI       bool
	proxyURL     string
	logLevel     string
	outputFormat string
	outputFile   string

	sellerID       string
	sellerPassword string
	startDate      string
	endDate        string

	productID   string
	itemID      string
	searchDepth int
	adProduct   bool
	parallel    int

	tagPages    int
	tagPageSize int

	listenAddr string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:     "autoclip",
		Short:   "Coupang advertising report and search rank automation",
		Version: version,
		Long: `autoclip drives a real browser through the Coupang advertising center
and shop search. It downloads keyword performance reports and finds where a
product ranks, as ad and as organic result, for a list of keywords.`,
		Example: `  # Download the daily keyword report for August
  autoclip report --id seller --start 2026-08-01 --end 2026-08-31 -o august.xlsx

  # Find a product in the first 3 result pages of two keywords
  autoclip rank --product 7251234567 --depth 3 "우산" "장우산" -f markdown

  # Scan the first 200 results for an advertised product
  autoclip rank --product 7251234567 --item 18512345678 --depth 200 --ad "우산"

  # Keyword suggestions
  autoclip keywords "우산"

  # Most used seller tags in the first 3 Naver Shopping pages
  autoclip tags "캠핑 의자" --pages 3

  # Serve the request API for an extension or script
  autoclip serve --addr 127.0.0.1:8787`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default ./autoclip.yaml when present)")
	pf.BoolVar(&showUI, "showui", false, "Show browser UI (disable headless mode)")
	pf.StringVarP(&proxyURL, "proxy", "p", os.Getenv("AUTOCLIP_PROXY"), "Proxy URL (e.g. http://127.0.0.1:7890), defaults to AUTOCLIP_PROXY env var")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Log in and download the keyword report for a date range",
		Args:  cobra.NoArgs,
		RunE:  runReport,
	}
	reportCmd.Flags().StringVar(&sellerID, "id", "", "Advertising center login id")
	reportCmd.Flags().StringVar(&sellerPassword, "password", os.Getenv("AUTOCLIP_PASSWORD"), "Login password, defaults to AUTOCLIP_PASSWORD env var")
	reportCmd.Flags().StringVar(&startDate, "start", "", "First report day (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&endDate, "end", "", "Last report day (YYYY-MM-DD)")
	reportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: the server's file name)")
	_ = reportCmd.MarkFlagRequired("id")
	_ = reportCmd.MarkFlagRequired("start")
	_ = reportCmd.MarkFlagRequired("end")

	rankCmd := &cobra.Command{
		Use:   "rank KEYWORD...",
		Short: "Find a product's ad and organic rank for each keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRank,
	}
	rankCmd.Flags().StringVar(&productID, "product", "", "Product id to look for")
	rankCmd.Flags().StringVar(&itemID, "item", "", "Item id; when set both ids must match")
	rankCmd.Flags().IntVar(&searchDepth, "depth", 10, "Pages to scan when <= 10, otherwise results to scan")
	rankCmd.Flags().BoolVar(&adProduct, "ad", false, "The product is advertised; also rank ad placements")
	rankCmd.Flags().IntVar(&parallel, "parallel", 1, "Keywords checked at once, each in its own session")
	rankCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format (html, text, markdown, json, csv)")
	rankCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (format inferred from extension if -f not specified)")
	_ = rankCmd.MarkFlagRequired("product")

	keywordsCmd := &cobra.Command{
		Use:   "keywords KEYWORD",
		Short: "Print the shop's keyword suggestions",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeywords,
	}

	tagsCmd := &cobra.Command{
		Use:   "tags KEYWORD",
		Short: "Tally the seller tags of a Naver Shopping search",
		Args:  cobra.ExactArgs(1),
		RunE:  runTags,
	}
	tagsCmd.Flags().IntVar(&tagPages, "pages", 0, "Result pages to read (default from config, 2)")
	tagsCmd.Flags().IntVar(&tagPageSize, "page-size", 0, "Products per page (default from config, 40)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the request API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (default from config, 127.0.0.1:8787)")

	rootCmd.AddCommand(reportCmd, rankCmd, keywordsCmd, tagsCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the wired process: configuration, logger, and when a command needs
// pages, the browser and its session manager.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	browser    *browser.Browser
	sessions   *session.Manager
	dispatcher *workflow.Dispatcher
}

func newApp(cmd *cobra.Command, withBrowser bool) (*app, error) {
	v := viper.New()
	if cmd.Flags().Changed("showui") {
		v.Set("browser.headless", !showUI)
	}
	if proxyURL != "" {
		v.Set("browser.proxy", proxyURL)
	}
	if logLevel != "" {
		v.Set("logger.level", logLevel)
	}
	if listenAddr != "" {
		v.Set("server.addr", listenAddr)
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}

	log := observability.NewStderrLogger(cfg.Logger)
	a := &app{cfg: cfg, log: log}

	if withBrowser {
		b, err := browser.New(cfg.Browser, log)
		if err != nil {
			observability.Sync(log)
			return nil, err
		}
		a.browser = b
		a.sessions = session.NewManager(b, cfg.Session, log)
		if cfg.Fetch.Proxy == "" {
			cfg.Fetch.Proxy = b.GetProxyURL()
		}
	}

	nav := navigator.New(cfg.Navigation.Timeout, log)
	reports, err := report.New(cfg.Report, log)
	if err != nil {
		a.close()
		return nil, err
	}
	fetch := fetcher.NewFetcher(cfg.Fetch, log)
	a.dispatcher = workflow.NewStandard(workflow.Deps{
		Sessions:  a.sessions,
		Navigator: nav,
		Login:     login.New(cfg.Login, log),
		Report:    reports,
		Rank:      rank.New(cfg.Rank, nav, log),
		Tags:      tags.New(cfg.Tags, fetch, log),
		Fetcher:   fetch,
		Suggester: coupang.NewAutocomplete("", cfg.Fetch.Rate, cfg.Fetch.Timeout),
		Site:      sites(),
		Version:   version,
		Log:       log,
	})
	log.Debug("started", zap.String("version", version), zap.Bool("browser", withBrowser))
	return a, nil
}

func (a *app) close() {
	if a.sessions != nil {
		a.sessions.Shutdown()
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.log.Warn("failed to close browser", zap.Error(err))
		}
	}
	observability.Sync(a.log)
}

// call dispatches one request and turns a failed response into an error.
func (a *app) call(ctx context.Context, kind string, payload any) (workflow.Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return workflow.Response{}, err
	}
	res := a.dispatcher.Dispatch(ctx, workflow.Request{Kind: kind, Payload: raw})
	if !res.Success {
		return res, errors.New(res.Error)
	}
	return res, nil
}

// sites binds the workflows to Coupang, plus Naver Shopping for tags.
func sites() workflow.Site {
	return workflow.Site{
		LoginURL:        coupang.LoginURL,
		ReportURL:       coupang.ReportURL,
		IsReportPage:    coupang.IsReportPage,
		Login:           coupang.LoginProfile(),
		Report:          coupang.ReportProfile(),
		Rank:            coupang.RankProfile(),
		AdsSession:      login.SessionCookie{Name: coupang.SessionCookie, Host: coupang.AdsHost},
		Shopping:        naver.TagsProfile(),
		ShoppingSession: login.SessionCookie{Name: naver.SessionCookie, Host: naver.ShoppingHost},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runReport(cmd *cobra.Command, _ []string) error {
	payload := workflow.LoginReportPayload{
		Credentials: login.Credentials{ID: sellerID, Password: sellerPassword},
		DateRange:   report.DateRange{Start: startDate, End: endDate},
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	res, err := a.call(ctx, workflow.KindLoginReport, payload)
	if err != nil {
		return fmt.Errorf("report failed: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(res.FileData)
	if err != nil {
		return fmt.Errorf("failed to decode report: %w", err)
	}

	path := outputFile
	if path == "" {
		path = filepath.Base(res.FileName)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Report written to: %s (%d bytes)\n", path, len(data))
	return nil
}

func runRank(cmd *cobra.Command, keywords []string) error {
	if outputFile != "" && !cmd.Flags().Changed("format") {
		if inferred := formatter.InferFromExtension(outputFile); inferred != "" {
			outputFormat = inferred
		}
	}
	if !formatter.Valid(outputFormat) {
		return fmt.Errorf("invalid output format: %s", outputFormat)
	}
	for _, kw := range keywords {
		req := rank.Request{SessionID: "-", Keyword: kw, ProductID: productID, ItemID: itemID, SearchDepth: searchDepth}
		if err := req.Validate(); err != nil {
			return err
		}
	}

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	results := make(rank.Results, len(keywords))
	g, gctx := errgroup.WithContext(ctx)
	if parallel < 1 {
		parallel = 1
	}
	g.SetLimit(parallel)
	for i, kw := range keywords {
		g.Go(func() error {
			res, err := a.checkKeyword(gctx, kw)
			if err != nil {
				return fmt.Errorf("%s: %w", kw, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out, err := formatter.Format(results, outputFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(out), 0644); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Output written to: %s\n", outputFile)
		return nil
	}
	fmt.Println(out)
	return nil
}

// checkKeyword runs start, keyword and end on a session of its own.
func (a *app) checkKeyword(ctx context.Context, keyword string) (*rank.Result, error) {
	res, err := a.call(ctx, workflow.KindRankCheckStart, struct{}{})
	if err != nil {
		return nil, err
	}
	ref := res.Data.(workflow.SessionRef)
	defer func() {
		_, _ = a.call(context.Background(), workflow.KindRankCheckEnd, ref)
	}()

	res, err = a.call(ctx, workflow.KindRankCheckKeyword, rank.Request{
		SessionID:   ref.SessionID,
		Keyword:     keyword,
		ProductID:   productID,
		ItemID:      itemID,
		SearchDepth: searchDepth,
		IsAdProduct: adProduct,
	})
	if err != nil {
		return nil, err
	}
	return res.Data.(*rank.Result), nil
}

func runKeywords(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	res, err := a.call(ctx, workflow.KindAutoKeyword, map[string]string{"keyword": args[0]})
	if err != nil {
		return err
	}
	return printJSON(res.Data)
}

func runTags(cmd *cobra.Command, args []string) error {
	req := tags.Request{Keyword: args[0], Pages: tagPages, PageSize: tagPageSize}
	if err := req.Validate(); err != nil {
		return err
	}

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	res, err := a.call(ctx, workflow.KindNaverShoppingTags, workflow.ShoppingTagsPayload{Request: req})
	if err != nil {
		return fmt.Errorf("tags failed: %w", err)
	}
	return printJSON(res.Data)
}

func printJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return err
	}
	fmt.Println(pretty.String())
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	srv := server.New(a.cfg.Server, a.dispatcher, a.sessions, a.log)
	return srv.ListenAndServe(ctx)
}
