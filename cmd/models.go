package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gochat/internal/models"
	providerfactory "gochat/internal/provider/factory"
)

const modelsUsage = `Usage:
  gochat models [--config <path>] [--endpoint <url>] [--api-key <key>]

Without --config, OPENAI_API_KEY and OPENAI_BASE_URL are read from the environment.`

func listModels(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, modelsUsage)
	}

	var flags clientFlags
	flags.register(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse models flags: %w", err)
	}

	cfg, err := flags.load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log, os.Stderr)

	resolver, err := providerfactory.NewResolver(cfg)
	if err != nil {
		return err
	}

	list, err := resolver.Models(ctx, cfg.Credentials())
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	return writeModelTable(out, list)
}

func writeModelTable(out io.Writer, list []models.Model) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTEXT\tCUTOFF\tIMAGES\tFLAGS")
	for _, m := range list {
		var flags []string
		if m.Preferred {
			flags = append(flags, "preferred")
		}
		if m.Deprecated {
			flags = append(flags, "deprecated")
		}
		window := "-"
		if m.ContextWindow > 0 {
			window = fmt.Sprintf("%d", m.ContextWindow)
		}
		cutoff := m.KnowledgeCutoff
		if cutoff == "" {
			cutoff = "-"
		}
		images := "no"
		if m.Images {
			images = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, window, cutoff, images, strings.Join(flags, ","))
	}
	return tw.Flush()
}
