// recallctl is a small CLI over the context engine: record turns, build
// context bundles, and inspect conversation or user summaries against a
// local sqlite store and a persistent chromem index.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall-go-sdk/core"
	"github.com/recallhq/recall-go-sdk/engine"
	"github.com/recallhq/recall-go-sdk/memory"
	"github.com/recallhq/recall-go-sdk/memory/embedder/mock"
	"github.com/recallhq/recall-go-sdk/memory/embedder/ollama"
	chromemindex "github.com/recallhq/recall-go-sdk/memory/index/chromem"
	"github.com/recallhq/recall-go-sdk/store/sqlite"
	"github.com/recallhq/recall-go-sdk/strategy"
	"github.com/recallhq/recall-go-sdk/tracker"
)

var (
	dataDir     string
	configPath  string
	ollamaModel string

	conversationID string
	userID         string
	strategyFlag   string
	role           string
	topK           int
)

var rootCmd = &cobra.Command{
	Use:   "recallctl",
	Short: "Conversational context engine CLI",
	Long:  "Record conversation turns, build context bundles, and inspect what the engine has learned. SQLite-backed, single binary.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "", "Data directory (default: $RECALL_DATA or ~/.recall)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Optional YAML config file")
	rootCmd.PersistentFlags().StringVar(&ollamaModel, "ollama-model", "", "Use an Ollama embedding model instead of the builtin hash embedder")

	recordCmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (required)")
	recordCmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	recordCmd.Flags().StringVar(&role, "role", "user", "Message role: user or assistant")
	rootCmd.AddCommand(recordCmd)

	buildCmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id")
	buildCmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	buildCmd.Flags().StringVar(&strategyFlag, "strategy", "auto", "Strategy: auto, conversation_only, memory_only, hybrid")
	buildCmd.Flags().IntVar(&topK, "top-k", 0, "Memory match cap (0 = configured default)")
	rootCmd.AddCommand(buildCmd)

	summaryCmd.AddCommand(summaryConversationCmd, summaryUserCmd)
	rootCmd.AddCommand(summaryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if env := os.Getenv("RECALL_DATA"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".recall")
}

func loadConfig() engine.Config {
	if configPath == "" {
		return engine.DefaultConfig()
	}
	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	return cfg
}

func newEmbedder() memory.Embedder {
	if ollamaModel != "" {
		return ollama.New(ollamaModel)
	}
	return mock.New()
}

// openEngine wires the engine against the sqlite store and the persistent
// chromem index under the data directory.
func openEngine() (*engine.Engine, *sqlite.Store) {
	dir := getDataDir()
	st, err := sqlite.New(filepath.Join(dir, "recall.db"))
	if err != nil {
		exitErr("open store", err)
	}
	idx, err := chromemindex.NewPersistent(filepath.Join(dir, "index"))
	if err != nil {
		exitErr("open index", err)
	}
	// The embedding cache pays off most with the Ollama embedder, where a
	// hit skips an HTTP round trip; it is cheap either way.
	return engine.NewEngine(st, idx, newEmbedder(),
		engine.WithConfig(loadConfig()),
		engine.WithEmbeddingCache(0),
	), st
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

var recordCmd = &cobra.Command{
	Use:   "record [text]",
	Short: "Record a conversation turn",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if conversationID == "" || userID == "" {
			exitErr("record", fmt.Errorf("--conversation and --user are required"))
		}
		e, st := openEngine()
		defer st.Close()

		e.RecordTurn(conversationID, core.Message{
			UserID:  userID,
			Role:    role,
			Content: args[0],
		})
		e.Close() // drain so the turn is persisted before exit
		fmt.Println("recorded")
	},
}

var buildCmd = &cobra.Command{
	Use:   "build [query]",
	Short: "Build a context bundle for a query",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		requested, err := strategy.Parse(strategyFlag)
		if err != nil {
			exitErr("build", err)
		}
		e, st := openEngine()
		defer st.Close()
		defer e.Close()

		bundle, err := e.BuildContext(cmd.Context(), engine.Request{
			ConversationID: conversationID,
			UserID:         userID,
			Query:          args[0],
			Strategy:       requested,
			TopK:           topK,
		})
		if err != nil {
			exitErr("build", err)
		}
		printJSON(bundle)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Inspect conversation or user summaries",
}

var summaryConversationCmd = &cobra.Command{
	Use:   "conversation [id]",
	Short: "Show tracked topics, entities, and style for a conversation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st, err := sqlite.New(filepath.Join(getDataDir(), "recall.db"))
		if err != nil {
			exitErr("open store", err)
		}
		defer st.Close()

		// Tracking state is in-process; rebuild it from the stored window.
		msgs, err := st.RecentMessages(cmd.Context(), args[0], cfg.EntityWindowMessages)
		if err != nil {
			exitErr("read messages", err)
		}
		tr := tracker.New(cfg.MaxContextEntities, cfg.EntityWindowMessages)
		uid := ""
		if len(msgs) > 0 {
			uid = msgs[0].UserID
		}
		tr.Update(args[0], uid, msgs)

		snap, _ := tr.Snapshot(args[0])
		printJSON(struct {
			ConversationID string        `json:"conversation_id"`
			Topics         []string      `json:"topics"`
			Entities       []core.Entity `json:"entities"`
			Style          string        `json:"conversation_style"`
		}{
			ConversationID: args[0],
			Topics:         snap.Topics,
			Entities:       tr.Entities(args[0], cfg.MaxContextEntities),
			Style:          snap.ConversationStyle,
		})
	},
}

var summaryUserCmd = &cobra.Command{
	Use:   "user [id]",
	Short: "Show learned preferences for a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, st := openEngine()
		defer st.Close()
		defer e.Close()

		summary, err := e.GetUserSummary(cmd.Context(), args[0])
		if err != nil {
			exitErr("user summary", err)
		}
		printJSON(summary)
	},
}
