package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "council",
	Short: "Client for the LLM council",
	Long: `council asks a question to a council of models and follows the answer
as it streams in: individual responses, anonymized peer rankings, and the
chairman's final synthesis.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetString("api"); v != "" {
			APIBaseURL = strings.TrimRight(v, "/")
		}
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the council a question",
	Long:  `Send a question to a new or existing conversation and show the council's answer stage by stage.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new conversation",
	Args:  cobra.NoArgs,
	RunE:  runNew,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scripted council dev server",
	Long: `Run a local council server with scripted models. It implements the same
API and event stream as the real backend and is meant for development.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	cobra.OnInitialize(LoadConfig)

	rootCmd.PersistentFlags().String("api", "", "council server URL (default $COUNCIL_API_URL or "+APIBaseURL+")")

	askCmd.Flags().StringP("conversation", "c", "", "conversation to continue (default: start a new one)")
	askCmd.Flags().BoolP("quiet", "q", false, "do not show stage progress")

	serveCmd.Flags().String("addr", "", "listen address (default $DEV_SERVER_ADDR or "+DevServerAddr+")")
	serveCmd.Flags().String("data-dir", "", "conversation storage directory (default $DATA_DIR or "+DataDir+")")
	serveCmd.Flags().Duration("stage-delay", 0, "pause between council stages")

	rootCmd.AddCommand(askCmd, listCmd, showCmd, newCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	question := strings.Join(args, " ")
	conversationID, _ := cmd.Flags().GetString("conversation")
	quiet, _ := cmd.Flags().GetBool("quiet")

	api := NewAPIClient(APIBaseURL)
	roster := ResolveRoster(ctx, api, DefaultRoster)

	updates := make(chan Conversation, 16)
	store := NewConversationStore(api, WithUpdates(updates))

	if conversationID == "" {
		conv, err := store.CreateConversation(ctx)
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		conversationID = conv.ID
	} else if _, err := store.SelectConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	progressOut := io.Discard
	if !quiet {
		progressOut = cmd.ErrOrStderr()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchProgress(progressOut, updates)
	}()

	sendErr := store.Send(ctx, conversationID, question)
	close(updates)
	<-done

	conv, ok := store.Conversation(conversationID)
	if ok && len(conv.Messages) > 0 {
		last := conv.Messages[len(conv.Messages)-1]
		if last.Role == RoleAssistant {
			NewConversationRenderer(cmd.OutOrStdout(), roster).RenderAssistant(last)
		}
	}

	if sendErr != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), UserMessage(sendErr))
		return sendErr
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Conversation: %s\n", conversationID)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	store := NewConversationStore(NewAPIClient(APIBaseURL))

	conversations, err := store.ListConversations(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(conversations) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet")
		return nil
	}

	t := table.New().Headers("ID", "CREATED", "MESSAGES", "TITLE")
	for _, conv := range conversations {
		t.Row(conv.ID, conv.CreatedAt.Local().Format("2006-01-02 15:04"), fmt.Sprint(conv.MessageCount), conv.Title)
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	api := NewAPIClient(APIBaseURL)
	roster := ResolveRoster(cmd.Context(), api, DefaultRoster)
	store := NewConversationStore(api)

	conv, err := store.SelectConversation(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	NewConversationRenderer(cmd.OutOrStdout(), roster).Render(conv)
	return nil
}

func runNew(cmd *cobra.Command, args []string) error {
	store := NewConversationStore(NewAPIClient(APIBaseURL))

	conv, err := store.CreateConversation(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		DevServerAddr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		DataDir = v
	}
	if v, _ := cmd.Flags().GetDuration("stage-delay"); v > 0 {
		DevServerStageDelay = v
	}

	server := NewDevServer(NewFileStore(DataDir), devServerRoster(), &ScriptedResponder{})
	return server.Run(DevServerAddr)
}

// devServerRoster uses the configured roster when there is one
func devServerRoster() Roster {
	roster := Roster{
		CouncilModels: DevServerDefaultCouncil,
		ChairmanModel: DevServerDefaultChairman,
	}
	if len(DefaultRoster.CouncilModels) > 0 {
		roster.CouncilModels = DefaultRoster.CouncilModels
	}
	if DefaultRoster.ChairmanModel != "" {
		roster.ChairmanModel = DefaultRoster.ChairmanModel
	}
	return roster
}

// watchProgress prints one line per stage transition of the newest
// assistant message until updates is closed
func watchProgress(w io.Writer, updates <-chan Conversation) {
	var p progress
	start := time.Now()
	for conv := range updates {
		if len(conv.Messages) == 0 {
			continue
		}
		msg := conv.Messages[len(conv.Messages)-1]
		if msg.Role != RoleAssistant {
			continue
		}
		for _, line := range p.observe(msg) {
			fmt.Fprintf(w, "[%5.1fs] %s\n", time.Since(start).Seconds(), line)
		}
	}
}

// progress remembers which stage transitions were already reported
type progress struct {
	seen map[string]bool
}

func (p *progress) observe(msg Message) []string {
	if p.seen == nil {
		p.seen = make(map[string]bool)
	}

	var lines []string
	report := func(key, line string) {
		if !p.seen[key] {
			p.seen[key] = true
			lines = append(lines, line)
		}
	}

	if msg.Loading.Stage1 {
		report("stage1_start", "Stage 1: collecting individual responses...")
	}
	if msg.Stage1 != nil {
		report("stage1_done", fmt.Sprintf("Stage 1: %d responses", len(msg.Stage1)))
	}
	if msg.Loading.Stage2 {
		report("stage2_start", "Stage 2: peer rankings in progress...")
	}
	if msg.Stage2 != nil {
		report("stage2_done", fmt.Sprintf("Stage 2: %d rankings", len(msg.Stage2)))
	}
	if msg.Loading.Stage3 {
		report("stage3_start", "Stage 3: chairman is synthesizing...")
	}
	if msg.Stage3 != nil {
		report("stage3_done", "Stage 3: final answer ready")
	}
	if msg.Error != "" {
		report("error", "Error: "+msg.Error)
	}
	return lines
}
