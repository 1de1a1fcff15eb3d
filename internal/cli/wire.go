package cli

import (
	"fmt"
	"os"

	"github.com/dfryer1193/mdblog/blog/application"
	"github.com/dfryer1193/mdblog/blog/generation"
	"github.com/dfryer1193/mdblog/blog/persistence"
	"github.com/dfryer1193/mdblog/internal/config"
	"github.com/dfryer1193/mdblog/shared/db/sqlite"
	"github.com/rs/zerolog/log"
)

// services is everything a command needs, built from the configuration.
type services struct {
	database   *sqlite.SQLiteDB
	posts      *persistence.SQLitePostRepository
	sources    *persistence.DirSourceTree
	renderer   *generation.Renderer
	reconciler *application.Reconciler
}

func newServices(cfg *config.Config) (*services, error) {
	if err := os.MkdirAll(cfg.Paths.MarkdownRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create markdown root: %w", err)
	}

	database := sqlite.NewSQLiteDB(sqlite.NewSQLiteConfig(cfg.Database.Path))
	if err := database.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	posts := persistence.NewPostRepository(database.DB())
	blobs := persistence.NewBlobStore(cfg.Paths.StorageRoot)
	sources := persistence.NewSourceTree(cfg.Paths.MarkdownRoot, cfg.Paths.Extension)

	client := newClient(cfg.Generation)
	renderer := newRenderer(cfg.Generation, client)
	metadata := application.NewMetadataSynthesizer(
		generation.NewMetadataGenerator(client, cfg.Generation.Timeout),
		posts,
		cfg.Generation.MaxAttempts,
		cfg.Publishing.DefaultAuthor,
	)
	reconciler := application.NewReconciler(posts, blobs, sources, renderer, metadata, application.ReconcilerOptions{
		AutoPublish:   cfg.Publishing.AutoPublish,
		ScanItemDelay: cfg.Scan.ItemDelay,
	})

	return &services{
		database:   database,
		posts:      posts,
		sources:    sources,
		renderer:   renderer,
		reconciler: reconciler,
	}, nil
}

func (s *services) Close() {
	if err := s.database.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
}

func newClient(cfg config.GenerationConfig) generation.Client {
	if cfg.Provider == config.ProviderLocal {
		log.Info().Msg("Using the offline generator")
		return generation.NewLocalClient()
	}
	log.Info().Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Using the OpenAI-compatible generator")
	return generation.NewOpenAIClient(generation.OpenAIConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
}

func newRenderer(cfg config.GenerationConfig, client generation.Client) *generation.Renderer {
	// Load has already validated the mode.
	mode, _ := generation.ParseValidationMode(cfg.ValidationMode)
	return generation.NewRenderer(
		client,
		generation.NewValidator(mode, cfg.AllowedScriptOrigins),
		generation.Options{
			MaxAttempts: cfg.MaxAttempts,
			Timeout:     cfg.Timeout,
			Prompt: generation.PromptConfig{
				Preference:           cfg.Preference,
				RecommendedResources: cfg.RecommendedResources,
			},
		},
	)
}
