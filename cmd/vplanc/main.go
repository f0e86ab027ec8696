// Command vplanc lowers loop plans read from YAML plan files and prints the
// vector IR they produce.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/vplan/internal/config"
	"github.com/tinyrange/vplan/internal/planfile"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vplanc: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Config file (default: ./"+config.DefaultFilename+" if present)")
	width := flag.Int("width", 0, "Vector width, overrides the config")
	unroll := flag.Int("unroll", 0, "Unroll count, overrides the config")
	scalable := flag.Bool("scalable", false, "Scale the vector width by vscale")
	native := flag.Bool("native", false, "Enable outer-loop recipes")
	profileDebug := flag.Bool("profile-debug-info", false, "Scale debug location duplication factors")
	debug := flag.Bool("debug", false, "Enable debug logging")
	color := flag.String("color", "", "Colour output: auto, always or never")
	output := flag.String("o", "", "Write the IR to this file instead of stdout")
	printPlan := flag.Bool("print-plan", false, "Print each plan before lowering it")
	writeConfig := flag.String("write-config", "", "Write the effective config to this path and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <plan.yaml>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Lower loop plans into vector IR.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s loop.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -width 8 -unroll 2 -print-plan loop.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -write-config %s\n\n", os.Args[0], config.DefaultFilename)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["width"] {
		cfg.Vectorize.Width = *width
	}
	if set["unroll"] {
		cfg.Vectorize.Unroll = *unroll
	}
	if set["scalable"] {
		cfg.Vectorize.Scalable = *scalable
	}
	if set["native"] {
		cfg.Vectorize.NativePath = *native
	}
	if set["profile-debug-info"] {
		cfg.Vectorize.ProfileDebugInfo = *profileDebug
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if set["color"] {
		cfg.Output.Color = *color
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if *writeConfig != "" {
		if err := config.Write(*writeConfig, cfg); err != nil {
			return err
		}
		slog.Info("wrote config", "path", *writeConfig)
		return nil
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		return fmt.Errorf("plan file required")
	}

	var out io.Writer = os.Stdout
	toFile := *output != ""
	if toFile {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	stdoutTTY := term.IsTerminal(int(os.Stdout.Fd()))
	stderrTTY := term.IsTerminal(int(os.Stderr.Fd()))
	styled := cfg.Output.Color == "always" || (cfg.Output.Color == "auto" && stdoutTTY && !toFile)

	// The bar shares stderr with the log, so it is only shown for batches
	// written elsewhere.
	var bar *progressbar.ProgressBar
	if len(paths) > 1 && stderrTTY && (toFile || !stdoutTTY) && level > slog.LevelDebug {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("lowering"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	opts := planfile.LowerOptions{
		VF:               cfg.VF(),
		UF:               cfg.Vectorize.Unroll,
		NativePath:       cfg.Vectorize.NativePath,
		ProfileDebugInfo: cfg.Vectorize.ProfileDebugInfo,
		Logger:           logger,
	}

	var errs []error
	for _, path := range paths {
		text, err := lowerFile(path, opts, *printPlan, styled)
		if err != nil {
			// A failed lowering only loses that file's output.
			slog.Error("lowering failed", "file", path, "error", err)
			errs = append(errs, err)
		} else {
			if toFile {
				text = ansi.Strip(text)
			}
			if _, err := io.WriteString(out, text); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d plans failed: %w", len(errs), len(paths), errors.Join(errs...))
	}
	slog.Debug("lowered plans", "count", len(paths), "vf", opts.VF.String(), "uf", opts.UF)
	return nil
}

// loadConfig reads the config at path, or the default file when path is
// empty and the file exists.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultFilename); err != nil {
			return config.Default(), nil
		}
		path = config.DefaultFilename
	}
	return config.Load(path)
}

// lowerFile loads and lowers one plan file and renders the result.
func lowerFile(path string, opts planfile.LowerOptions, printPlan, styled bool) (string, error) {
	l, err := planfile.Load(path)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if printPlan {
		sb.WriteString(header("plan "+l.Name, styled))
		if err := l.Plan.Print(&sb); err != nil {
			return "", err
		}
		sb.WriteString("\n")
	}
	if err := l.Lower(opts); err != nil {
		return "", err
	}
	sb.WriteString(header(fmt.Sprintf("%s (vf=%s, uf=%d)", l.Name, opts.VF, opts.UF), styled))
	if err := l.Func.Print(&sb); err != nil {
		return "", err
	}
	sb.WriteString("\n")
	return sb.String(), nil
}

func header(title string, styled bool) string {
	line := "; " + title
	rule := "; " + strings.Repeat("-", ansi.StringWidth(title))
	if styled {
		bold := ansi.Style{}.Bold()
		line = bold.Styled(line)
	}
	return line + "\n" + rule + "\n"
}
