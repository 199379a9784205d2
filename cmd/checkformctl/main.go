// Command checkformctl manages form schemas and responses on a checkform
// server.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/checkform/internal/apiclient"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "checkformctl: %v\n", err)
		os.Exit(1)
	}
}

type globals struct {
	server  string
	token   string
	timeout time.Duration
	verbose bool
}

func (g *globals) client() (*apiclient.Client, error) {
	if g.token == "" {
		g.token = os.Getenv("CHECKFORM_TOKEN")
	}
	return apiclient.New(apiclient.Options{BaseURL: g.server, Token: g.token, Timeout: g.timeout, Debug: g.verbose})
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "checkformctl",
		Short:         "Manage checkform schemas and responses",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if g.verbose {
				level = slog.LevelDebug
			}
			w := cmd.ErrOrStderr()
			noColor := true
			if f, ok := w.(*os.File); ok {
				noColor = !isatty.IsTerminal(f.Fd())
				w = colorable.NewColorable(f)
			}
			slog.SetDefault(slog.New(tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: "15:04:05", NoColor: noColor})))
		},
	}
	f := cmd.PersistentFlags()
	f.StringVar(&g.server, "server", "http://localhost:8080", "checkform server URL")
	f.StringVar(&g.token, "token", "", "bearer token; defaults to $CHECKFORM_TOKEN")
	f.DurationVar(&g.timeout, "timeout", 30*time.Second, "per-request timeout")
	f.BoolVarP(&g.verbose, "verbose", "v", false, "log requests")
	cmd.AddCommand(newSchemaCommand(g), newResponsesCommand(g), newJSONSchemaCommand())
	return cmd
}

var errArgs = errors.New("invalid arguments")
