package app

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jokbolink/orchestrator/config"
	"github.com/jokbolink/orchestrator/database"
	"github.com/jokbolink/orchestrator/httpapi"
	"github.com/jokbolink/orchestrator/kvstore"
	"github.com/jokbolink/orchestrator/services/credential"
	"github.com/jokbolink/orchestrator/services/cron"
	"github.com/jokbolink/orchestrator/services/jobrunner"
	"github.com/jokbolink/orchestrator/services/llmclient"
	"github.com/jokbolink/orchestrator/services/objectstore"
	"github.com/jokbolink/orchestrator/services/pdfops"
	"github.com/jokbolink/orchestrator/services/storage"
	"github.com/jokbolink/orchestrator/utils/crypto"
	"github.com/jokbolink/orchestrator/utils/middleware"
)

func SetupAndRunServer() error {
	if err := config.LoadENV(); err != nil {
		return err
	}

	env, err := config.Get()
	if err != nil {
		return err
	}

	gormStore, err := database.StartGORM()
	if err != nil {
		print("Check whether Postgres is running or not\n")
		print("  make docker-up   (for Docker setup)\n")
		print("  make db-up       (for local PostgreSQL)\n")
		return err
	}
	if err := gormStore.Init(); err != nil {
		print("Failed to run GORM AutoMigrate\n")
		return err
	}
	defer gormStore.Close()
	db := gormStore.GetDB()

	kv, err := kvstore.New(env.REDIS_URL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer kv.Close()

	var objStore *objectstore.Client
	if env.SPACES_ENABLED {
		objStore, err = objectstore.New(objectstore.Config{
			AccessKey: env.SPACES_KEY,
			SecretKey: env.SPACES_SECRET,
			Bucket:    env.SPACES_BUCKET,
			Region:    env.SPACES_REGION,
			Endpoint:  env.SPACES_ENDPOINT,
		})
		if err != nil {
			print("Warning: failed to initialize object store mirror, falling back to disk-only: ", err.Error(), "\n")
			objStore = nil
		}
	}

	store, err := storage.New(storage.Config{
		KV:          kv,
		DB:          db,
		DiskRoot:    env.STORAGE_ROOT,
		ObjectStore: objStore,
		FileTTL:     time.Duration(env.FILE_TTL_SECONDS) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage service: %w", err)
	}

	secrets := resolveCredentials(env.LLM_API_KEYS)
	if len(secrets) == 0 {
		return fmt.Errorf("no LLM_API_KEYS configured")
	}

	// The pool and every audit/log line downstream only ever see an opaque
	// credential ID, never the API key itself.
	credentialIDs := make([]string, len(secrets))
	apiKeyByID := make(map[string]string, len(secrets))
	for i, secret := range secrets {
		id := fmt.Sprintf("cred-%d", i)
		credentialIDs[i] = id
		apiKeyByID[id] = secret
	}

	pool, err := credential.New(credential.Config{
		CredentialIDs:    credentialIDs,
		FailureThreshold: env.CREDENTIAL_FAILURE_THRESHOLD,
		CooldownDuration: time.Duration(env.CREDENTIAL_COOLDOWN_SECONDS) * time.Second,
		DB:               db,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize credential pool: %w", err)
	}

	newClient := func(credentialID string) *llmclient.Client {
		return llmclient.New(llmclient.ClientConfig{
			CredentialID: credentialID,
			APIKey:       apiKeyByID[credentialID],
			BaseURL:      env.LLM_BASE_URL,
			Model:        env.LLM_MODEL_FLASH,
			Timeout:      time.Duration(env.EXTRACTION_CHUNK_TIMEOUT_SECONDS) * time.Second,
			RetryConfig: &llmclient.RetryConfig{
				MaxRetries:     env.EXTRACTION_MAX_RETRIES,
				InitialBackoff: time.Duration(env.EXTRACTION_RETRY_DELAY_SECONDS) * time.Second,
				MaxBackoff:     time.Duration(env.EXTRACTION_MAX_BACKOFF_SECONDS) * time.Second,
			},
		})
	}

	extractor := pdfops.NewExtractor()

	runner := jobrunner.New(jobrunner.Config{
		Store:               store,
		Pool:                pool,
		Extractor:           extractor,
		NewClient:           newClient,
		FlashTokensPerChunk: env.FLASH_TOKENS_PER_CHUNK,
		ProTokensPerChunk:   env.PRO_TOKENS_PER_CHUNK,
		PerKeyConcurrency:   env.PER_KEY_CONCURRENCY_LIMIT,
	})

	cronManager := cron.NewCronManager(cron.Config{
		DB:       db,
		Pool:     pool,
		DiskRoot: env.STORAGE_ROOT,
		FileTTL:  time.Duration(env.FILE_TTL_SECONDS) * time.Second,
	})
	if err := cronManager.Start(); err != nil {
		print("Warning: failed to start cron jobs: ", err.Error(), "\n")
	}
	defer cronManager.Stop()

	fiberApp := fiber.New(fiber.Config{
		BodyLimit: 200 * 1024 * 1024, // lesson PDFs can run large
	})

	middleware.SetupSecurity(fiberApp, middleware.SecurityConfig{
		AllowedOrigins:    "*",
		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,
	})
	fiberApp.Use(recover.New())

	server := httpapi.NewServer(httpapi.Config{
		Runner:             runner,
		Store:              store,
		NewClient:          newClient,
		DefaultTokenBudget: env.DEFAULT_USER_TOKEN_BUDGET,
		MinRelevanceScore:  env.MIN_RELEVANCE_SCORE_DEFAULT,
	})
	server.Register(fiberApp)

	return fiberApp.Listen(fmt.Sprintf(":%d", env.PORT))
}

// resolveCredentials decrypts LLM_API_KEYS entries with ENCRYPTION_KEY when
// one is configured (keys stored pre-encrypted in the deployment's secret
// manager), otherwise treats them as plain API keys.
func resolveCredentials(keys []string) []string {
	encryptionKey, err := crypto.GetEncryptionKey()
	if err != nil {
		return keys
	}

	resolved := make([]string, 0, len(keys))
	for _, k := range keys {
		plain, decErr := crypto.Decrypt(k, encryptionKey)
		if decErr != nil {
			resolved = append(resolved, k)
			continue
		}
		resolved = append(resolved, plain)
	}
	return resolved
}
