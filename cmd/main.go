package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/engine"
	"document-qa/internal/helper"
	"document-qa/internal/llmservice"
	"document-qa/internal/loader"
	"document-qa/internal/server"
	"document-qa/internal/store"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	serve := flag.Bool("serve", false, "Run the HTTP server")
	filePath := flag.String("file", "", "Path to a document file")
	url := flag.String("url", "", "URL of a document")
	query := flag.String("query", "", "Question to answer against the document")
	dryRun := flag.Bool("dry-run", false, "Chunk the document and print the result without indexing")
	flag.Parse()

	cfg := loadConfig(*configPath)

	if *dryRun {
		if *filePath == "" {
			log.Fatal().Msg("Please provide a document file using the -file flag")
		}
		dryRunChunks(*filePath, cfg)
		return
	}

	if *serve {
		runServer(cfg)
		return
	}

	if *filePath == "" && *url == "" {
		log.Fatal().Msg("Please provide a document using the -file or -url flag, or run with -serve")
	}
	answerQuery(context.Background(), cfg, *filePath, *url, *query)
}

func loadConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("Config file not found, using defaults")
			return config.Default()
		}
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")
	return cfg
}

func newEngine(cfg *config.Config) *engine.Engine {
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	llm, err := llmservice.NewClient(&cfg.InferLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing LLM client")
	}

	var snapshots engine.SnapshotStore
	if cfg.Database.Enabled {
		dbClient, err := store.ConnectDB(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to database")
		}
		st := store.NewStore(dbClient, cfg.Database.Debug)
		if err := st.Init(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
		}
		snapshots = st
	}

	return engine.New(cfg, embedder, llm, snapshots)
}

func runServer(cfg *config.Config) {
	srv := server.New(newEngine(cfg), cfg)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

func answerQuery(ctx context.Context, cfg *config.Config, filePath, url, query string) {
	var (
		source string
		text   string
		err    error
	)
	if filePath != "" {
		source = filePath
		text, err = loader.ExtractFile(filePath)
	} else {
		source = url
		text, err = loader.ExtractURL(ctx, url, cfg.Server.MaxFileSize)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Error extracting document text")
	}

	eng := newEngine(cfg)
	docID, err := eng.Ingest(ctx, source, text)
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting document")
	}

	if query == "" {
		log.Info().Str("document_id", docID).Msg("Document ingested")
		return
	}

	answer, err := eng.AnswerSingle(ctx, docID, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error answering query")
	}
	if answer.Failed() {
		log.Fatal().Err(answer.Err).Msg("Query failed")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Text)
}

func dryRunChunks(filePath string, cfg *config.Config) {
	text, err := loader.ExtractFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error extracting document text")
	}
	chunks, err := chunker.Chunk(helper.HashID(filePath), text, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		log.Fatal().Err(err).Msg("Error chunking document")
	}
	log.Info().Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
}
