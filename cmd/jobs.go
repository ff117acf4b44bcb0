package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newFetchQuotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-quotes",
		Short: "Fetch the latest index quotes once",
		Long: `Fetches every configured index from the quote API and upserts the
latest value into the quote table. An index that cannot be fetched is logged
and skipped; the command only fails when the quote table is unusable.`,
		RunE: runFetchQuotesCommand,
	}
}

func runFetchQuotesCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	fetcher, err := appInstance.QuoteFetcher(cmd.Context())
	if err != nil {
		return fmt.Errorf("init quote fetcher: %w", err)
	}
	report, err := fetcher.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch quotes: %w", err)
	}
	appInstance.Logger().Info("fetch-quotes finished",
		zap.Strings("stored", report.Stored),
		zap.Strings("skipped", report.Skipped))
	return nil
}

func newSendDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-digest",
		Short: "Email the daily digest to every subscriber once",
		Long: `Loads the stored quotes, renders the digest and emails it to each
subscriber. Missing quotes or an unreadable subscriber list abort the run
before anything is sent.`,
		RunE: runSendDigestCommand,
	}
}

func runSendDigestCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	mailer, err := appInstance.DigestMailer(cmd.Context())
	if err != nil {
		return fmt.Errorf("init digest mailer: %w", err)
	}
	report, err := mailer.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	appInstance.Logger().Info("send-digest finished",
		zap.Int("recipients", report.Recipients),
		zap.Int("sent", report.Sent),
		zap.Strings("failed", report.Failed),
		zap.String("archive", report.ArchiveURI))
	return nil
}
