// Command autogui-cli is a diagnostic client for the automation engine.
// It builds the same server the MCP binary runs and invokes tools
// directly, which makes it handy for checking a parser backend or
// desktop driver setup without an MCP host in the loop.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/lpernett/godotenv"
	"github.com/spf13/cobra"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/config"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/server"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:           "autogui-cli",
		Short:         "Drive the GUI automation engine from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	newServer := func(cmd *cobra.Command) (*server.Server, error) {
		_ = godotenv.Load()
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		level := slog.LevelWarn
		if debug || cfg.Debug {
			level = slog.LevelDebug
		}
		logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
		return server.New(cmd.Context(), cfg, server.Options{Logger: logger})
	}

	root.AddCommand(
		newToolsCmd(newServer),
		newCallCmd(newServer),
		newAnalyzeCmd(newServer),
	)
	return root
}

func newToolsCmd(newServer func(*cobra.Command) (*server.Server, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := newServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Close()

			resp, err := request(srv, "tools/list", nil)
			if err != nil {
				return err
			}
			var result struct {
				Tools []struct {
					Name        string `json:"name"`
					Description string `json:"description"`
				} `json:"tools"`
			}
			if err := json.Unmarshal(resp, &result); err != nil {
				return err
			}
			for _, tool := range result.Tools {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", tool.Name, tool.Description)
			}
			return nil
		},
	}
}

func newCallCmd(newServer func(*cobra.Command) (*server.Server, error)) *cobra.Command {
	var imageOut string

	cmd := &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Invoke one tool and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := "{}"
			if len(args) == 2 {
				arguments = args[1]
			}
			if !json.Valid([]byte(arguments)) {
				return fmt.Errorf("arguments are not valid JSON: %s", arguments)
			}

			srv, err := newServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Close()

			return callTool(cmd, srv, args[0], arguments, imageOut)
		},
	}
	cmd.Flags().StringVar(&imageOut, "image-out", "", "write image content to this file")
	return cmd
}

func newAnalyzeCmd(newServer func(*cobra.Command) (*server.Server, error)) *cobra.Command {
	var imageOut string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze the screen and print the element list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := newServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Close()

			return callTool(cmd, srv, "analyze_screen", "{}", imageOut)
		},
	}
	cmd.Flags().StringVar(&imageOut, "image-out", "", "write the annotated preview to this file")
	return cmd
}

// callTool runs one tools/call round trip and renders the result: text
// content to stdout, image content to imageOut when given.
func callTool(cmd *cobra.Command, srv *server.Server, tool, arguments, imageOut string) error {
	params, _ := json.Marshal(map[string]any{
		"name":      tool,
		"arguments": json.RawMessage(arguments),
	})
	resp, err := request(srv, "tools/call", params)
	if err != nil {
		return err
	}

	var result server.ToolResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	for _, content := range result.Content {
		switch content.Type {
		case "text":
			fmt.Fprintln(cmd.OutOrStdout(), content.Text)
		case "image":
			if imageOut == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "[image %s, %d bytes base64; use --image-out to save]\n",
					content.MimeType, len(content.Data))
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(content.Data)
			if err != nil {
				return fmt.Errorf("decode image content: %w", err)
			}
			if err := os.WriteFile(imageOut, raw, 0644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[image written to %s]\n", imageOut)
		}
	}
	if result.IsError {
		return fmt.Errorf("tool %s failed", tool)
	}
	return nil
}

// request performs one JSON-RPC exchange against the in-process server.
func request(srv *server.Server, method string, params json.RawMessage) (json.RawMessage, error) {
	resp, err := srv.HandleMessage(&transport.Message{
		JSONRPC: "2.0",
		ID:      json.RawMessage("1"),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	return resp.Result, nil
}
