// ChatLab is a conversational workbench over imported chat records: it
// drives an LLM that answers questions by calling analytic tools against
// the record.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/stupid-ve/ChatLab/agent"
	"github.com/stupid-ve/ChatLab/config"
	"github.com/stupid-ve/ChatLab/llm"
	"github.com/stupid-ve/ChatLab/session"
	"github.com/stupid-ve/ChatLab/tools"
	"github.com/stupid-ve/ChatLab/tools/mcp"
	"go.uber.org/zap"
)

func main() {
	sessionFlag := flag.String("s", "", "Session name to create or resume")
	chatFlag := flag.String("chat", "", "Path to a JSON chat export to analyze")
	variantFlag := flag.String("variant", "analyst", "Conversation variant: 'analyst' or 'casual'")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log, err := newLogger(*debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	var variant agent.Variant
	switch *variantFlag {
	case "analyst":
		variant = agent.VariantAnalyst
	case "casual":
		variant = agent.VariantCasual
	default:
		fmt.Fprintf(os.Stderr, "Invalid variant '%s'. Must be 'analyst' or 'casual'.\n", *variantFlag)
		os.Exit(1)
	}

	ctx := context.Background()
	client, err := llm.New(ctx, llm.ClientConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.ClientTimeout.Std(),
		Log:      log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing %s client: %+v\n", cfg.Provider, err)
		os.Exit(1)
	}

	registry := tools.NewRegistry(cfg.Tools, log)
	toolCtx := &tools.Context{}

	if *chatFlag != "" {
		store, err := loadRecord(*chatFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading chat export: %+v\n", err)
			os.Exit(1)
		}
		toolCtx.SessionID = store.sessionID
		if err := tools.RegisterAnalytics(registry, store); err != nil {
			fmt.Fprintf(os.Stderr, "Error registering analytic tools: %+v\n", err)
			os.Exit(1)
		}
	}

	for _, entry := range cfg.MCPServers {
		server, err := mcp.Connect(ctx, entry, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to MCP server '%s': %+v\n", entry.Name, err)
			os.Exit(1)
		}
		defer server.Close()
		if err := server.RegisterTools(ctx, registry); err != nil {
			fmt.Fprintf(os.Stderr, "Error registering tools from '%s': %+v\n", entry.Name, err)
			os.Exit(1)
		}
	}

	sessionName := *sessionFlag
	if sessionName == "" {
		sessionName = "default"
	}
	sess, err := session.LoadOrNew(sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session '%s': %+v\n", sessionName, err)
		os.Exit(1)
	}

	cancels := agent.NewCancelRegistry()
	runner := &runner{
		client:   client,
		registry: registry,
		toolCtx:  toolCtx,
		sess:     sess,
		cfg:      cfg,
		variant:  variant,
		cancels:  cancels,
		log:      log,
	}

	if prompt := strings.Join(flag.Args(), " "); prompt != "" {
		if err := runner.run(ctx, prompt); err != nil {
			fmt.Fprintf(os.Stderr, "Run failed: %+v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("ChatLab is ready. Type a question, or 'exit' to quit.")
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		if err := runner.run(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "Run failed: %+v\n", err)
		}
	}
}

type runner struct {
	client   llm.Client
	registry *tools.Registry
	toolCtx  *tools.Context
	sess     *session.Session
	cfg      *config.Config
	variant  agent.Variant
	cancels  *agent.CancelRegistry
	log      *zap.SugaredLogger
}

// run executes one user prompt, streaming output to the terminal. Ctrl-C
// aborts the in-flight request through the cancel registry.
func (r *runner) run(ctx context.Context, prompt string) error {
	a := agent.New(r.client, r.registry, r.toolCtx, r.sess.Messages, agent.Config{
		MaxRounds:   r.cfg.MaxToolRounds,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Variant:     r.variant,
		Cancels:     r.cancels,
		Log:         r.log,
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigs; ok {
			r.cancels.Abort(a.RequestID())
		}
	}()
	defer func() {
		signal.Stop(sigs)
		close(sigs)
	}()

	result, err := a.ExecuteStream(ctx, prompt, func(ev agent.Event) {
		switch e := ev.(type) {
		case agent.ContentDeltaEvent:
			fmt.Print(e.Text)
		case agent.ToolStartEvent:
			fmt.Printf("\n[tool] %s %s\n", e.Name, e.Args)
		case agent.ToolResultEvent:
			if e.IsError {
				fmt.Printf("[tool] %s failed: %s\n", e.Name, e.Result)
			}
		}
	})
	if err != nil {
		return err
	}
	fmt.Println()

	if result.State == agent.StateAborted {
		fmt.Println("(aborted)")
	}
	r.sess.Append(llm.Message{Role: llm.RoleUser, Content: prompt})
	r.sess.Append(llm.Message{Role: llm.RoleAssistant, Content: result.Content})
	return r.sess.Save()
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.OutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
