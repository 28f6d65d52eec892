package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"evidence-rag/internal/helper"
	"evidence-rag/internal/models"
	"evidence-rag/internal/session"
)

var (
	askFiles  []string
	askOutDir string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Index PDFs and answer one question from the terminal",
	Long: `ask indexes the given PDF files, answers the question and writes one
highlighted PNG per evidence page into the output directory.`,
	Example: `  evidence-rag ask --file report.pdf --out ./evidence "What was the revenue in 2023?"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runAsk,
}

func init() {
	askCmd.Flags().StringSliceVarP(&askFiles, "file", "f", nil, "PDF file to index (repeatable)")
	askCmd.Flags().StringVarP(&askOutDir, "out", "o", "./evidence", "directory for highlighted evidence images")
	_ = askCmd.MarkFlagRequired("file")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.Join(args, " ")

	files, err := readInputFiles(askFiles)
	if err != nil {
		return err
	}

	app, err := buildApp(ctx, cfg, cfg.Server.UploadDir)
	if err != nil {
		log.Error().Err(err).Msg("Error building application")
		return err
	}
	defer app.Close()

	report, err := app.session.Upload(ctx, files)
	for _, f := range report.Files {
		if f.Err != nil {
			log.Warn().Err(f.Err).Str("file", f.Name).Msg("File skipped")
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("Error indexing files")
		return err
	}
	log.Info().Int("documents", report.Documents).Int("chunks", report.TotalChunks).Msg("Indexed documents")

	rec, err := app.session.Ask(ctx, question)
	if err != nil {
		log.Error().Err(err).Msg("Error answering question")
		return err
	}
	for _, d := range rec.Diagnostics {
		log.Warn().Msg(d)
	}

	if err := writeEvidence(askOutDir, rec); err != nil {
		return err
	}
	helper.PrettyPrint(rec)
	return nil
}

func readInputFiles(paths []string) ([]session.File, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one --file is required")
	}
	files := make([]session.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		files = append(files, session.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

// writeEvidence stores each rendered image as <n>-<source>-p<page>.png.
func writeEvidence(dir string, rec models.Record) error {
	if len(rec.Evidence) == 0 {
		return nil
	}
	if err := helper.CreateFolder(dir); err != nil {
		return err
	}
	for i, ev := range rec.Evidence {
		if len(ev.Image) == 0 {
			continue
		}
		base := strings.TrimSuffix(filepath.Base(ev.Source), filepath.Ext(ev.Source))
		name := fmt.Sprintf("%d-%s-p%d.png", i, helper.SafeFilename(base), ev.PageNumber)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, ev.Image, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		log.Info().Str("path", path).Float64("confidence", ev.Confidence).Msg("Wrote evidence")
	}
	return nil
}
