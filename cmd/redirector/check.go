package main

import (
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cfg "github.com/fabian4/redirect-gateway/internal/config"
	"github.com/fabian4/redirect-gateway/internal/redirect"
)

func newCheckCmd(load func() (*cfg.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print the redirect table in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tPATTERN\tDESTINATION\tSTATUS")
			for i, r := range c.Table.Rules() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i, r.Pattern, r.Destination, r.Status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d rules (%d defined, duplicates=%s)\n",
				c.Table.Len(), len(c.Redirects), c.Duplicates)
			return nil
		},
	}
}

func newResolveCmd(load func() (*cfg.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve PATH[?QUERY]",
		Short: "Show what the gateway would answer for a request path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load()
			if err != nil {
				return err
			}
			path, query, err := splitTarget(args[0])
			if err != nil {
				return err
			}
			d := redirect.NewResolver(c.Table).Resolve(path, query)
			if !d.Matched() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> no match (404)\n", path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %d %s (pattern %s)\n", path, d.StatusCode, d.Destination, d.Pattern)
			return nil
		},
	}
}

// splitTarget parses a request target the way the server sees it: the path is
// unescaped, the query stays raw.
func splitTarget(target string) (string, string, error) {
	if !strings.HasPrefix(target, "/") {
		return "", "", fmt.Errorf("path %q must start with '/'", target)
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return "", "", fmt.Errorf("path %q: %w", target, err)
	}
	return u.Path, u.RawQuery, nil
}
