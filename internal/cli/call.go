package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jarsater/toolrpc/internal/mcp"
	"github.com/jarsater/toolrpc/internal/transport"
)

func newCallCommand() *cobra.Command {
	var (
		serverURL string
		rawArgs   []string
		timeout   time.Duration
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool on a running HTTP server",
		Long: `Call a tool on a server started with 'toolrpc serve --transport http'.

Arguments are given as key=value pairs. Values that parse as JSON are sent
as JSON, everything else as a string.

Examples:
  toolrpc call echo --arg message=hello
  toolrpc call wait --arg ms=250 --url http://127.0.0.1:3000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseArguments(rawArgs)
			if err != nil {
				return err
			}

			client := transport.NewHTTPClient(serverURL, timeout, nil)
			defer client.Close()

			resp, err := client.Do(cmd.Context(), mcp.NewCallToolRequest(args[0], arguments))
			if err != nil {
				return err
			}

			if resp.Error != nil {
				printError(cmd, "%s (%s)", resp.Error.Message, resp.Error.Code)
				return fmt.Errorf("call %s failed with code %d", args[0], int(resp.Error.Code))
			}
			if asJSON {
				data, err := mcp.EncodeResult(resp.Result)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			return printResult(cmd, args[0], resp.Result)
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "http://"+transport.DefaultHTTPConfig().Addr, "server base URL")
	cmd.Flags().StringArrayVarP(&rawArgs, "arg", "a", nil, "tool argument as key=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result")
	return cmd
}

// parseArguments turns key=value pairs into call arguments.
func parseArguments(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: want key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
		} else {
			args[key] = value
		}
	}
	return args, nil
}

func printResult(cmd *cobra.Command, name string, result mcp.Result) error {
	tr, ok := result.(*mcp.ToolResult)
	if !ok {
		return fmt.Errorf("unexpected result %T", result)
	}

	out := cmd.OutOrStdout()
	for _, c := range tr.Content {
		switch c := c.(type) {
		case *mcp.TextContent:
			fmt.Fprintln(out, c.Text)
		case mcp.TextContent:
			fmt.Fprintln(out, c.Text)
		case *mcp.ImageContent:
			fmt.Fprintf(out, "[image %s, %d bytes base64]\n", c.MimeType, len(c.Data))
		case *mcp.ResourceContent:
			fmt.Fprintf(out, "[resource %s]\n", c.URI)
		default:
			fmt.Fprintf(out, "[%s]\n", c.ContentType())
		}
	}

	if tr.IsError {
		printError(cmd, "%s reported an error", name)
		return fmt.Errorf("tool %s reported an error", name)
	}
	printSuccess(cmd, "%s completed", name)
	return nil
}
