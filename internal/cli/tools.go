package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jarsater/toolrpc/internal/mcp"
	"github.com/jarsater/toolrpc/internal/tools"
	"github.com/jarsater/toolrpc/internal/transport"
)

func newToolsCommand() *cobra.Command {
	var (
		serverURL string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the enabled tools",
		Long: `List the tools that 'toolrpc serve' would enable with the current
settings, or the tools of a running HTTP server when --url is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var descriptors []mcp.ToolDescriptor
			if serverURL != "" {
				list, err := remoteTools(cmd.Context(), serverURL)
				if err != nil {
					return err
				}
				descriptors = list
			} else {
				if err := loader.BindFlags(cmd, map[string]string{"tools": "tools"}); err != nil {
					return err
				}
				cfg, err := loader.Load()
				if err != nil {
					return err
				}
				enabled, err := tools.Select(tools.Builtin(), cfg.Tools)
				if err != nil {
					return err
				}
				for _, t := range enabled {
					descriptors = append(descriptors, mcp.Describe(t))
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if descriptors == nil {
					descriptors = []mcp.ToolDescriptor{}
				}
				return enc.Encode(descriptors)
			}
			printTools(cmd, descriptors)
			return nil
		},
	}

	cmd.Flags().StringSlice("tools", []string{"*"}, "glob patterns selecting the tools to enable")
	cmd.Flags().StringVar(&serverURL, "url", "", "list the tools of the HTTP server at this URL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	return cmd
}

func remoteTools(ctx context.Context, serverURL string) ([]mcp.ToolDescriptor, error) {
	client := transport.NewHTTPClient(serverURL, 10*time.Second, nil)
	defer client.Close()

	resp, err := client.Do(ctx, &mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	list, ok := resp.Result.(*mcp.ToolList)
	if !ok {
		return nil, fmt.Errorf("unexpected tools/list result %T", resp.Result)
	}
	return list.Tools, nil
}

func printTools(cmd *cobra.Command, descriptors []mcp.ToolDescriptor) {
	if len(descriptors) == 0 {
		printWarning(cmd, "No tools enabled")
		return
	}

	bold := color.New(color.Bold)
	out := cmd.OutOrStdout()
	for _, d := range descriptors {
		bold.Fprintf(out, "%s\n", d.Name)
		if d.Description != "" {
			fmt.Fprintf(out, "  %s\n", d.Description)
		}
		if props, ok := d.InputSchema["properties"].(map[string]any); ok && len(props) > 0 {
			fmt.Fprintf(out, "  arguments: %s\n", color.HiBlackString("%s", propertyNames(props)))
		}
	}
	fmt.Fprintln(out)
	printInfo(cmd, "%d tools", len(descriptors))
}

func propertyNames(props map[string]any) string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}
