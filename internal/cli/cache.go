package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chanwatch/internal/monitor"
)

var cacheFile string

func init() {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Print channel cursors and the number of seen authors",
		Args:  cobra.NoArgs,
		RunE:  runCache,
	}
	cmd.Flags().StringVar(&cacheFile, "file", "", "Cache file (default: monitor.cache_path from the config)")
	RootCmd.AddCommand(cmd)
}

type cacheView struct {
	Path    string               `json:"path"`
	Cursors map[string]time.Time `json:"cursors"`
	Authors int                  `json:"authors"`
}

func runCache(cmd *cobra.Command, _ []string) error {
	path := cacheFile
	if path == "" {
		cfg, err := parseConfig()
		if err != nil {
			return err
		}
		path = cfg.Monitor.CachePath
	}
	if path == "" {
		path = "./files/cache.json"
	}

	snap, err := monitor.NewCacheStore(path, time.Now).Peek()
	if err != nil {
		return err
	}
	view := cacheView{Path: path, Cursors: snap.Cursors, Authors: snap.AuthorCount()}

	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		b, _ := json.MarshalIndent(view, "", "  ")
		fmt.Fprintln(out, string(b))
		return nil
	}
	fmt.Fprintf(out, "cache: %s\nauthors seen: %d\n\n", view.Path, view.Authors)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tLAST SCAN")
	channels := make([]string, 0, len(view.Cursors))
	for ch := range view.Cursors {
		channels = append(channels, ch)
	}
	slices.Sort(channels)
	for _, ch := range channels {
		fmt.Fprintf(tw, "%s\t%s\n", ch, view.Cursors[ch].Local().Format(time.DateTime))
	}
	return tw.Flush()
}
