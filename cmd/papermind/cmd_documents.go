package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"papermind/internal/conversation"
	"papermind/internal/gateway"
	"papermind/internal/pipeline"
	"papermind/internal/types"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new conversation (clears uploaded documents)",
	Args:  cobra.NoArgs,
	RunE:  runNew,
}

var uploadCmd = &cobra.Command{
	Use:   "upload [files...]",
	Short: "Upload PDF documents into the current conversation",
	Long: `Uploads one batch of PDF files. Every file must be a PDF; a batch with
any other file is rejected before anything is sent.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the uploaded documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the current conversation",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var plainOutput bool

func addDocumentCommands(root *cobra.Command) {
	askCmd.Flags().BoolVar(&plainOutput, "plain", false, "Print the answer without markdown rendering")
	historyCmd.Flags().BoolVar(&plainOutput, "plain", false, "Print answers without markdown rendering")
	root.AddCommand(newCmd, uploadCmd, askCmd, historyCmd)
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

func runNew(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	if err := a.convs.Load(ctx, s.Profile.Email); err != nil {
		return err
	}
	if _, err := a.pipes.ResetConversation(ctx); err != nil {
		if errors.Is(err, conversation.ErrIndexNotCleared) {
			return errors.New(pipeline.BannerClearFailed)
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Started a new conversation.")
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	files, err := gateway.DetectFiles(args)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	p, err := a.activePipeline(ctx, s)
	if err != nil {
		return err
	}
	if err := p.AddFiles(files...); err != nil {
		return err
	}
	if err := p.Submit(ctx, ""); err != nil {
		return submissionError(p, err)
	}

	msgs := p.Snapshot().Messages
	if n := len(msgs); n > 0 && msgs[n-1].Role == types.RoleSystem {
		fmt.Fprintln(cmd.OutOrStdout(), msgs[n-1].Content)
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	p, err := a.activePipeline(ctx, s)
	if err != nil {
		return err
	}
	if err := p.Submit(ctx, joinArgs(args)); err != nil {
		return submissionError(p, err)
	}

	msgs := p.Snapshot().Messages
	if n := len(msgs); n > 0 && msgs[n-1].Role == types.RoleAssistant {
		return printMarkdown(cmd.OutOrStdout(), msgs[n-1].Content, string(a.theme.Current()))
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	if err := a.convs.Load(ctx, s.Profile.Email); err != nil {
		return err
	}
	c, ok := a.convs.Selected()
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n\n", c.Title)
	for _, m := range c.Messages {
		stamp := m.Timestamp.Format("2006-01-02 15:04")
		switch m.Role {
		case types.RoleAssistant:
			fmt.Fprintf(out, "[%s] PaperMind:\n", stamp)
			if err := printMarkdown(out, m.Content, string(a.theme.Current())); err != nil {
				return err
			}
		default:
			fmt.Fprintf(out, "[%s] %s: %s\n", stamp, m.Role, m.Content)
		}
	}
	return nil
}

// submissionError prefers the banner text the pipeline settled on.
func submissionError(p *pipeline.Pipeline, err error) error {
	if banner := p.Snapshot().Banner; banner != "" {
		return errors.New(banner)
	}
	return err
}

// printMarkdown renders content with glamour unless --plain is set.
func printMarkdown(w io.Writer, content, style string) error {
	if plainOutput {
		_, err := fmt.Fprintln(w, content)
		return err
	}
	out, err := glamour.Render(content, style)
	if err != nil {
		_, err = fmt.Fprintln(w, content)
		return err
	}
	_, err = fmt.Fprint(w, out)
	return err
}
