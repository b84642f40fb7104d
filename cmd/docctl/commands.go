package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"gopherai-docqa/internal/answer"
	"gopherai-docqa/internal/bootstrap"
	"gopherai-docqa/internal/cache"
	"gopherai-docqa/internal/config"
	"gopherai-docqa/internal/extract"
	"gopherai-docqa/internal/index"
	"gopherai-docqa/internal/pkg/textutil"
	"gopherai-docqa/internal/retrieval"
	"gopherai-docqa/internal/storage"
	"gopherai-docqa/internal/summarize"
)

const localUser = "local"

type options struct {
	offline   bool
	mediaType string
	verbose   bool
}

// pipeline is the in-process subset of the service used by the CLI.
type pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	extractor  *extract.Extractor
	summarizer *summarize.Summarizer
	answerer   *answer.Answerer
	indexer    *index.Indexer
	retriever  *retrieval.Retriever
	scratch    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "docctl",
		Short:         "Run the document pipeline against local files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.offline, "offline", false, "never call the llm backend")
	root.PersistentFlags().StringVar(&opts.mediaType, "type", "", "media type of the file (default: from extension)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline decisions to stderr")

	root.AddCommand(newExtractCmd(opts), newSummarizeCmd(opts), newAskCmd(opts))
	return root
}

func newExtractCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the plain text of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(cmd, opts)
			if err != nil {
				return err
			}
			defer p.close()
			text, err := p.extract(args[0], opts.mediaType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newSummarizeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <file>",
		Short: "Print a plain-language summary of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(cmd, opts)
			if err != nil {
				return err
			}
			defer p.close()
			text, err := p.extract(args[0], opts.mediaType)
			if err != nil {
				return err
			}
			summary := p.summarizer.Summarize(cmd.Context(), text, filepath.Base(args[0]), localUser, filepath.Base(args[0]))
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func newAskCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <file> <question>",
		Short: "Answer a question from a document",
		Example: `  docctl ask contract.pdf "When is the final payment due?"
  docctl ask --offline notes.md "Who signed the agreement?"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args[1:], " "))
			if question == "" {
				return fmt.Errorf("question is required")
			}
			p, err := newPipeline(cmd, opts)
			if err != nil {
				return err
			}
			defer p.close()
			text, err := p.extract(args[0], opts.mediaType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ask(cmd.Context(), text, question))
			return nil
		},
	}
}

func newPipeline(cmd *cobra.Command, opts *options) (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.offline {
		cfg.LLM.Offline = true
	}

	level := slog.LevelError
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	scratch, err := os.MkdirTemp("", "docctl-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir failed: %w", err)
	}

	generator, embedder := bootstrap.NewCapability(cfg.LLM)
	indexer := index.NewIndexer(index.NewFileChunkStore(storage.NewLayout(scratch)), embedder, index.Config{
		ChunkSize:        cfg.Pipeline.ChunkSize,
		ChunkOverlap:     cfg.Pipeline.ChunkOverlap,
		EmbedTimeout:     cfg.LLM.EmbedTimeout(),
		EmbedConcurrency: cfg.Pipeline.EmbedConcurrency,
		EmbedBatchSize:   cfg.Pipeline.EmbedBatchSize,
	}, logger)

	summaryCfg := summarize.DefaultConfig()
	summaryCfg.MaxPromptChars = cfg.Pipeline.MaxSummaryPromptChars
	summaryCfg.Timeout = cfg.LLM.GenerateTimeout()
	answerCfg := answer.DefaultConfig()
	answerCfg.MaxContextChars = cfg.Pipeline.MaxAnswerContextChars
	answerCfg.Timeout = cfg.LLM.GenerateTimeout()

	return &pipeline{
		cfg:        cfg,
		logger:     logger,
		extractor:  extract.New(),
		summarizer: summarize.New(generator, cache.NewMemorySummaryCache(cfg.Pipeline.SummaryTTL()), nil, summaryCfg, nil, logger),
		answerer:   answer.New(generator, answerCfg, nil, logger),
		indexer:    indexer,
		retriever:  retrieval.NewRetriever(indexer, embedder, cfg.LLM.EmbedTimeout(), logger),
		scratch:    scratch,
	}, nil
}

func (p *pipeline) close() {
	_ = os.RemoveAll(p.scratch)
}

func (p *pipeline) extract(path, mediaType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	if mediaType == "" {
		mediaType = extract.MediaTypeFromName(path)
	}
	text, err := p.extractor.Extract(data, mediaType)
	if err != nil {
		return "", fmt.Errorf("%s (%s): %w", extract.UserMessage(err), extract.Classify(err), err)
	}
	return text, nil
}

// ask retrieves from a throwaway index when the embedder is available and
// answers from the leading text otherwise.
func (p *pipeline) ask(ctx context.Context, text, question string) string {
	const docID = "cli-document"
	docContext := ""
	if !p.cfg.LLM.Offline {
		if _, err := p.indexer.Build(ctx, localUser, docID, text); err != nil {
			p.logger.Warn("index build failed", "error", err)
		} else {
			docContext = p.retriever.RetrieveTopK(ctx, localUser, docID, question, p.cfg.Pipeline.TopK)
		}
	}
	if docContext == "" {
		docContext = textutil.TruncateRunes(text, p.cfg.Pipeline.MaxAnswerContextChars)
	}
	return p.answerer.Answer(ctx, question, docContext)
}
