package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/orchestrator"
)

func newCrawlCmd() *cobra.Command {
	var (
		sites     []string
		maxItems  int
		maxPages  int
		maxErrors int
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl session",
		Long: `Crawls the named sites (or every active site profile when none are
named), validates and deduplicates the scraped listings and persists
price observations. The session closes early when an item, page, error
or wall-clock limit is hit; drops and duplicates are counted, not fatal.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			cfg := orchestrator.Config{
				GlobalConcurrency: a.cfg.Crawler.GlobalConcurrency,
				PerSiteMax:        a.cfg.Crawler.PerSiteMax,
				UserAgent:         a.cfg.Crawler.UserAgent,
				RequestTimeout:    a.cfg.RequestTimeout(),
				SessionTimeout:    a.cfg.SessionTimeout(),
				MaxItems:          a.cfg.Crawler.MaxItems,
				MaxPages:          a.cfg.Crawler.MaxPages,
				MaxErrors:         a.cfg.Crawler.MaxErrors,
				Currency:          a.cfg.Crawler.Currency,
				BaseDelay:         a.cfg.BaseDelay(),
				Jitter:            a.cfg.Jitter(),
				RPSPerOrigin:      a.cfg.Policy.RPSPerOrigin,
				TargetInflight:    a.cfg.Policy.TargetInflight,
				RetryBudget:       a.cfg.Policy.RetryBudget,
				FailureThreshold:  a.cfg.Policy.FailureThreshold,
			}
			if maxItems > 0 {
				cfg.MaxItems = maxItems
			}
			if maxPages > 0 {
				cfg.MaxPages = maxPages
			}
			if maxErrors > 0 {
				cfg.MaxErrors = maxErrors
			}
			if timeout > 0 {
				cfg.SessionTimeout = timeout
			}

			// Re-probe demoted identities in the background for the length
			// of the session.
			recoveryCtx, stopRecovery := context.WithCancel(cmd.Context())
			defer stopRecovery()
			go a.pool.RunRecovery(recoveryCtx, a.cfg.RotationInterval())

			o := orchestrator.New(cfg, a.store, a.store, a.store, a.pool, a.registry, a.logger)
			session, err := o.Run(cmd.Context(), sites)
			if err != nil {
				return fmt.Errorf("crawl session %s: %w", session.ID, err)
			}
			if session.Status != catalog.SessionCompleted {
				return fmt.Errorf("crawl session %s ended %s: %s",
					session.ID, session.Status, session.ErrorText)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sites, "site", nil, "site profile to crawl (repeatable; default all active)")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "override the session item limit")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "override the session page limit")
	cmd.Flags().IntVar(&maxErrors, "max-errors", 0, "override the session error limit")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the session wall-clock budget")
	return cmd
}
