package commands

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pincersec/pincer/internal/sandbox"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools available in the catalog",
	RunE:  runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	catalog, err := sandbox.LoadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}

	if _, err := sandbox.DetectRuntime(cfg.Runtime); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		var rtErr *sandbox.RuntimeError
		if errors.As(err, &rtErr) && rtErr.Guidance != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", rtErr.Guidance)
		}
	}

	tools := catalog.Tools()
	if len(tools) == 0 {
		fmt.Println("No tools in catalog.")
		fmt.Printf("Add entries to %s to get started.\n", cfg.Catalog)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tIMAGE\tFLAGS\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, imageOrEndpoint(t), flagSummary(t), t.Description)
	}
	return w.Flush()
}

func imageOrEndpoint(t sandbox.ToolSpec) string {
	if t.Endpoint != "" {
		return t.Endpoint
	}
	return t.Image
}

func flagSummary(t sandbox.ToolSpec) string {
	out := ""
	add := func(s string) {
		if out != "" {
			out += ","
		}
		out += s
	}
	if t.Privileged {
		add("privileged")
	}
	if t.Service {
		add("service")
	}
	if t.KeepAlive {
		add("keep-alive")
	}
	if t.UseService != "" {
		add("via:" + t.UseService)
	}
	if out == "" {
		out = "-"
	}
	return out
}
