package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/neurodesk/viewc/pkg/cache"
	"github.com/neurodesk/viewc/pkg/compiler"
	"github.com/neurodesk/viewc/pkg/config"
	"github.com/neurodesk/viewc/pkg/loader"
	viewstar "github.com/neurodesk/viewc/pkg/starlark"
	"github.com/neurodesk/viewc/pkg/tpl"
	"github.com/neurodesk/viewc/pkg/transpile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string
var verbose bool

var rootCmd = cobra.Command{
	Use:           "viewc",
	Short:         "Compile, render and cache view templates",
	SilenceUsage:  true,
	SilenceErrors: true,
}

type env struct {
	cfg    *config.Config
	logger *slog.Logger
	dir    *loader.Dir
}

// setup loads configuration and builds the logger every command uses.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(viper.New(), configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	dir := loader.NewDir(cfg.Templates.Dir)
	dir.Ext = cfg.Templates.Ext
	return &env{cfg: cfg, logger: logger, dir: dir}, nil
}

func (e *env) compiler(opts ...compiler.Option) (*compiler.Compiler, error) {
	c, err := e.cfg.Cache.Open(e.logger)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	base := []compiler.Option{
		compiler.WithLoader(e.dir),
		compiler.WithTranspiler(transpile.New(
			transpile.WithMaxIncludeDepth(e.cfg.Engine.MaxIncludeDepth),
			transpile.WithLogger(e.logger),
		)),
		compiler.WithExecutor(viewstar.NewExecutor(
			viewstar.WithMaxSteps(e.cfg.Engine.MaxSteps),
			viewstar.WithLogger(e.logger),
		)),
		compiler.WithLogger(e.logger),
	}
	if c != nil {
		base = append(base, compiler.WithCache(c, e.cfg.Cache.Lifetime))
	}
	return compiler.New(append(base, opts...)...), nil
}

// source returns the template named by args, or the --eval text.
func (e *env) source(cmd *cobra.Command, args []string) (string, string, error) {
	if src, _ := cmd.Flags().GetString("eval"); src != "" {
		return "<eval>", src, nil
	}
	if len(args) == 0 {
		return "", "", fmt.Errorf("no template specified")
	}
	src, err := e.dir.Load(args[0])
	if err != nil {
		return "", "", err
	}
	return args[0], compiler.NormalizeNewlines(src), nil
}

func renderVars(cmd *cobra.Command) (map[string]any, error) {
	path, _ := cmd.Flags().GetString("vars")
	vars, err := loadVars(path)
	if err != nil {
		return nil, err
	}
	sets, _ := cmd.Flags().GetStringArray("set")
	if err := applySets(vars, sets); err != nil {
		return nil, err
	}
	return vars, nil
}

var renderCmd = cobra.Command{
	Use:   "render [template]",
	Short: "Render a template to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		vars, err := renderVars(cmd)
		if err != nil {
			return err
		}
		comp, err := e.compiler()
		if err != nil {
			return err
		}

		var out string
		if src, _ := cmd.Flags().GetString("eval"); src != "" {
			out, err = comp.CompileString("<eval>", src, vars)
		} else if len(args) == 0 {
			return fmt.Errorf("no template specified")
		} else {
			out, err = comp.Render(args[0], vars)
		}
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), out)
		return err
	},
}

var tokensCmd = cobra.Command{
	Use:   "tokens [template]",
	Short: "Print the token stream of a template",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		_, src, err := e.source(cmd, args)
		if err != nil {
			return err
		}
		tokens, err := tpl.Lex(src)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, t := range tokens {
			fmt.Fprintf(w, "%4d  %-18s %q\n", t.Line, t.Type, t.Value)
		}
		return nil
	},
}

var astCmd = cobra.Command{
	Use:   "ast [template]",
	Short: "Print the syntax tree of a template",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		_, src, err := e.source(cmd, args)
		if err != nil {
			return err
		}
		ast, err := tpl.ParseString(src, tpl.WithBlocks(transpile.DefaultRegistry()))
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), tpl.Pretty(ast))
		return err
	},
}

var transpileCmd = cobra.Command{
	Use:   "transpile [template]",
	Short: "Print the Starlark program generated for a template",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		name, src, err := e.source(cmd, args)
		if err != nil {
			return err
		}
		comp, err := e.compiler()
		if err != nil {
			return err
		}
		p, err := comp.Transpile(tpl.NewView(name, src, nil))
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if lines, _ := cmd.Flags().GetBool("lines"); lines {
			for i, line := range strings.Split(strings.TrimSuffix(p.Code, "\n"), "\n") {
				fmt.Fprintf(w, "%-16s %s\n", p.Source(i+1), line)
			}
			return nil
		}
		_, err = io.WriteString(w, p.Code)
		return err
	},
}

var configCmd = cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		out, err := e.cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var cacheCmd = cobra.Command{
	Use:   "cache",
	Short: "Manage the compiled output cache",
}

var cacheFlushCmd = cobra.Command{
	Use:   "flush",
	Short: "Remove every cached artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		c, err := e.cfg.Cache.Open(e.logger)
		if err != nil {
			return err
		}
		if c == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "cache disabled")
			return nil
		}
		if err := c.Flush(); err != nil {
			return fmt.Errorf("flushing cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "flushed %s cache\n", e.cfg.Cache.Backend)
		return nil
	},
}

var cacheGCCmd = cobra.Command{
	Use:   "gc",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		c, err := e.cfg.Cache.Open(e.logger)
		if err != nil {
			return err
		}
		col, ok := c.(cache.Collector)
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "cache disabled")
			return nil
		}
		n, err := col.GC()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", n)
		return nil
	},
}

var watchCmd = cobra.Command{
	Use:   "watch [template]",
	Short: "Re-render a template whenever the template directory changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		vars, err := renderVars(cmd)
		if err != nil {
			return err
		}
		comp, err := e.compiler()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		render := func() {
			out, err := comp.Render(args[0], vars)
			if err != nil {
				e.logger.Error("render failed", "template", args[0], "error", err)
				return
			}
			_, _ = io.WriteString(w, out)
		}
		render()

		opts := []loader.WatchOption{loader.WithWatchLogger(e.logger)}
		if e.cfg.Templates.Ext != "" {
			opts = append(opts, loader.WithFilter(loader.ExtFilter(e.cfg.Templates.Ext)))
		}
		watcher, err := loader.NewWatcher(e.cfg.Templates.Dir, func(paths []string) {
			e.logger.Info("templates changed", "paths", paths)
			if err := comp.Flush(); err != nil {
				e.logger.Warn("cache flush failed", "error", err)
			}
			render()
		}, opts...)
		if err != nil {
			return fmt.Errorf("watching %s: %w", e.cfg.Templates.Dir, err)
		}
		defer watcher.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to viewc configuration file (default ./viewc.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	for _, c := range []*cobra.Command{&renderCmd, &watchCmd} {
		c.Flags().String("vars", "", "YAML file with template variables")
		c.Flags().StringArray("set", []string{}, "Set a variable as KEY=VALUE (repeatable)")
	}
	for _, c := range []*cobra.Command{&renderCmd, &tokensCmd, &astCmd, &transpileCmd} {
		c.Flags().StringP("eval", "e", "", "Use this template source instead of loading a file")
	}
	transpileCmd.Flags().Bool("lines", false, "Prefix each generated line with its template location")

	rootCmd.AddCommand(&renderCmd, &tokensCmd, &astCmd, &transpileCmd, &configCmd, &watchCmd)

	cacheCmd.AddCommand(&cacheFlushCmd, &cacheGCCmd)
	rootCmd.AddCommand(&cacheCmd)

	checkCmd.Flags().String("file", "", "Template test definitions (default <templates.dir>/viewc.tests.yaml)")
	rootCmd.AddCommand(&checkCmd, &lintCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
