package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"kitaabse-pipeline/internal/config"
	"kitaabse-pipeline/internal/domain"
	"kitaabse-pipeline/internal/service"

	"github.com/spf13/cobra"
)

var (
	processTitle    string
	processAuthor   string
	processLanguage string
	processUploader string
	processStrategy string
)

var processCmd = &cobra.Command{
	Use:   "process <file.pdf>",
	Short: "Upload a local PDF and convert it inline, streaming progress events",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processTitle, "title", "", "book title (default file name)")
	processCmd.Flags().StringVar(&processAuthor, "author", "", "book author")
	processCmd.Flags().StringVar(&processLanguage, "language", "hindi", "book language")
	processCmd.Flags().StringVar(&processUploader, "uploader", "", "uploader user id (required)")
	processCmd.Flags().StringVar(&processStrategy, "strategy", "", "override EXTRACTION_STRATEGY (text, ocr, vision)")
	_ = processCmd.MarkFlagRequired("uploader")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	path := args[0]
	pdf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	container, ctx, cleanup, err := newContainer(func(cfg *config.AppConfig) {
		if processStrategy != "" {
			cfg.ExtractionStrategy = processStrategy
		}
	})
	if err != nil {
		return err
	}
	defer cleanup()

	doc, err := container.UploadService.Accept(ctx, service.UploadRequest{
		UploaderID: processUploader,
		FileName:   filepath.Base(path),
		PDF:        pdf,
		Title:      processTitle,
		Author:     processAuthor,
		Language:   processLanguage,
	})
	if err != nil {
		return err
	}

	events := make(chan domain.ProgressEvent)
	go container.Pipeline.RunInline(ctx, doc, pdf, events)
	if err := container.ProgressReporter.Stream(cmd.OutOrStdout(), events); err != nil {
		return err
	}

	if doc.Status == domain.DocumentFailed {
		return fmt.Errorf("book %s failed: %s", doc.ID, doc.Error)
	}
	return nil
}
