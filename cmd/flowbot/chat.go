package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/flowbot"
	"github.com/aretw0/flowbot/internal/logging"
	"github.com/aretw0/flowbot/internal/presentation/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat <graph file>",
	Short: "Chat with a bot in the terminal",
	Long: `Compiles a graph file into an in-memory engine and runs an interactive
conversation on the terminal, playing the end user.

Webservice nodes are not called: answer them with "/callback <value>".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		headless, _ := cmd.Flags().GetBool("headless")
		phone, _ := cmd.Flags().GetString("phone")
		debug, _ := cmd.Flags().GetBool("debug")
		style, _ := cmd.Flags().GetString("style")
		ctx := cmd.Context()

		logger := logging.NewNop()
		if debug {
			logger = logging.New(slog.LevelDebug, "text")
		}

		eng, err := flowbot.New(flowbot.WithLogger(logger))
		if err != nil {
			return err
		}
		programs, err := activateFiles(ctx, eng, args)
		if err != nil {
			return err
		}
		processID := programs[0].ProcessID

		runner := &flowbot.Runner{
			Input:     cmd.InOrStdin(),
			Output:    cmd.OutOrStdout(),
			ProcessID: processID,
			Phone:     phone,
			Headless:  headless,
		}

		// Styled output only on a real terminal.
		fd := int(os.Stdout.Fd())
		if !headless && term.IsTerminal(fd) {
			width, _, err := term.GetSize(fd)
			if err != nil {
				width = 0
			}
			render, err := tui.NewRenderer(width, style)
			if err != nil {
				return fmt.Errorf("init renderer: %w", err)
			}
			runner.Renderer = render
			tui.PrintBanner(runner.Output, processID, flowbot.Version)
		}

		return runner.Run(ctx, eng)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().Bool("headless", false, "Run in headless mode (no prompts, plain output)")
	chatCmd.Flags().String("phone", "5500000000000", "End-user phone number of the session")
	chatCmd.Flags().Bool("debug", false, "Log engine events to stderr")
	chatCmd.Flags().String("style", "", "glamour style for bot messages (dark, light, notty); detected when empty")
}
