package main

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spasmodic123/search-agent/internal/config"
	"github.com/spasmodic123/search-agent/internal/events"
	"github.com/spasmodic123/search-agent/internal/logging"
	"github.com/spasmodic123/search-agent/internal/orchestrator"
	"github.com/spasmodic123/search-agent/internal/session"
)

var (
	researchOutput string
	researchThread string
)

var researchCmd = &cobra.Command{
	Use:   "research <topic>",
	Short: "Research a topic and write the report to a file",
	Long: `Run the writer/critic loop for a topic from the terminal, printing
progress as it happens. The final report is written to <topic-slug>.md
unless --output is given.

Examples:
  search-agent research "history of the transatlantic telegraph cable"
  search-agent research --output report.md "port congestion in 2024"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	researchCmd.Flags().StringVarP(&researchOutput, "output", "o", "", "output file (default <topic-slug>.md)")
	researchCmd.Flags().StringVar(&researchThread, "thread", "", "thread id to resume")
}

func runResearch(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Progress goes to stdout; keep structured logs quiet on the console.
	logger, err := logging.New("warn", "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}

	pub := events.NewChanPublisher(64)
	engine, err := orchestrator.New(client, buildGateway(cfg, logger), session.NewMemoryStore(), pub, logger)
	if err != nil {
		return err
	}

	threadID := researchThread
	if threadID == "" {
		threadID = uuid.NewString()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range pub.Events() {
			printEvent(ev)
		}
	}()

	res, runErr := engine.Run(ctx, threadID, topic)
	pub.Close()
	wg.Wait()
	if runErr != nil {
		return runErr
	}

	out := researchOutput
	if out == "" {
		out = slugify(topic) + ".md"
	}
	if err := os.WriteFile(out, []byte(res.Draft), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	fmt.Printf("\nscore %d/10 after %d revision(s); report written to %s\n",
		res.Score, res.Iterations, out)
	return nil
}

func printEvent(ev events.Event) {
	switch ev.Type {
	case events.TypeStart:
		fmt.Printf("* %s\n", ev.Content)
	case events.TypeDraft:
		fmt.Printf("[%s] produced a draft (%d chars)\n", ev.Node, len(ev.Content))
	case events.TypeScore:
		fmt.Printf("[%s] scored the draft %d/10\n", ev.Node, ev.Score)
	case events.TypeComplete:
		fmt.Println("* research complete")
	case events.TypeError:
		fmt.Printf("! %s\n", ev.Content)
	default:
		if ev.Content != "" {
			fmt.Printf("[%s] %s\n", ev.Node, truncate(ev.Content, 120))
		}
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a topic into a safe file stem.
func slugify(topic string) string {
	slug := slugUnsafe.ReplaceAllString(strings.ToLower(topic), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 80 {
		slug = strings.Trim(slug[:80], "-")
	}
	if slug == "" {
		slug = "report"
	}
	return slug
}
