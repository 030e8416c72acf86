package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chanwatch/internal/monitor"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "check <text>",
		Short: "Evaluate the configured keyword policy against text",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCheck,
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}
	scope, err := monitor.ParseExcludeScope(cfg.Monitor.ExcludeScope)
	if err != nil {
		return err
	}
	m, err := monitor.Compile(cfg.Monitor.KeyWords, cfg.Monitor.UnkeyWords, scope)
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	matched := m.Match(text)
	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		b, _ := json.Marshal(map[string]any{"text": text, "match": matched, "scope": scope})
		fmt.Fprintln(out, string(b))
		return nil
	}
	if matched {
		fmt.Fprintln(out, "match")
	} else {
		fmt.Fprintln(out, "no match")
	}
	return nil
}
