package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"basecamp/api"
	"basecamp/config"
	"basecamp/crm"
	"basecamp/deduplication"
	"basecamp/enrichment"
	"basecamp/ingest"
	"basecamp/leadstore"
	"basecamp/pipeline"
)

func main() {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	index, err := deduplication.NewChroma(deduplication.ChromaConfig{
		Host:           cfg.ChromaHost,
		Port:           cfg.ChromaPort,
		CollectionName: cfg.ChromaCollection,
	})
	if err != nil {
		log.Fatalf("failed to connect to vector index: %v", err)
	}
	defer index.Close()

	embeddings := newEmbeddings(cfg)
	detector := deduplication.NewDetector(index, deduplication.DetectorConfig{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxCandidates:       cfg.MaxSimilarLeads,
	})

	store, err := leadstore.New(cfg.StorePath)
	if err != nil {
		log.Fatalf("failed to open lead store: %v", err)
	}
	defer store.Close()

	var bloom pipeline.ResubmissionFilter
	if cfg.RedisAddr != "" {
		rb, err := deduplication.NewRedisBloom(deduplication.BloomConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.BloomKey,
			TTL:      cfg.BloomTTL,
		})
		if err != nil {
			log.Printf("Warning: bloom filter unavailable, continuing without it: %v", err)
		} else {
			defer rb.Close()
			bloom = rb
		}
	}

	var enricher pipeline.Enricher
	if cfg.LLMModel != "" {
		enricher = enrichment.NewAnalyzer(enrichment.Config{
			APIKey:       cfg.LLMAPIKey,
			BaseURL:      cfg.LLMBaseURL,
			Model:        cfg.LLMModel,
			BusinessType: cfg.BusinessType,
		})
	}

	var syncer pipeline.CRMSyncer
	if cfg.AirtableAPIKey != "" {
		syncer = crm.NewAirtable(crm.AirtableConfig{
			APIKey:    cfg.AirtableAPIKey,
			BaseID:    cfg.AirtableBaseID,
			TableName: cfg.AirtableTable,
		})
	}

	p := pipeline.NewPipeline(pipeline.PipelineConfig{
		Embeddings: embeddings,
		Detector:   detector,
		Index:      index,
		Store:      store,
		Enricher:   enricher,
		CRM:        syncer,
		Bloom:      bloom,
	})

	var exporter api.Exporter
	if cfg.ExportBucket != "" {
		e, err := pipeline.NewS3Exporter(context.Background(), pipeline.S3ExporterConfig{
			Bucket:  cfg.ExportBucket,
			Prefix:  cfg.ExportPrefix,
			Region:  cfg.AWSRegion,
			Profile: cfg.AWSProfile,
		})
		if err != nil {
			log.Printf("Warning: export disabled: %v", err)
		} else {
			exporter = e
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := ingest.NewConsumer(ingest.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, p)
		if err != nil {
			log.Fatalf("failed to create kafka consumer: %v", err)
		}
		if err := consumer.Start(ctx); err != nil {
			log.Fatalf("failed to start kafka consumer: %v", err)
		}
		defer consumer.Close()
	}

	server := api.NewServer(api.ServerConfig{
		Processor: p,
		Store:     store,
		Index:     index,
		Exporter:  exporter,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(server),
	}

	go func() {
		log.Printf("Starting API server on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: shutdown error: %v", err)
	}
}

func newEmbeddings(cfg *config.Config) deduplication.EmbeddingsProvider {
	switch cfg.EmbeddingProvider {
	case "openai":
		return deduplication.NewOpenAIEmbeddings(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
	default:
		return deduplication.NewCohereEmbeddings(cfg.CohereAPIKey, cfg.EmbeddingModel)
	}
}
