package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	c "github.com/valnet/cart-service/internal/cache"
	h "github.com/valnet/cart-service/internal/http"
	"github.com/valnet/cart-service/internal/poller"
	"github.com/valnet/cart-service/internal/pricing"
	"github.com/valnet/cart-service/internal/repository"
	s "github.com/valnet/cart-service/internal/service"
)

type Config struct {
	HTTPPort        string
	MongoURI        string
	MongoDBName     string
	RedisAddr       string
	RedisPassword   string
	PricingBaseURL  string
	PricingTimeout  time.Duration
	KafkaBrokers    []string
	KafkaPriceTopic string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:     getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		PricingBaseURL:  getEnv("PRICING_BASE_URL", "http://localhost:8081"),
		PricingTimeout:  getDurationEnv("PRICING_TIMEOUT", 3*time.Second),
		KafkaBrokers:    strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaPriceTopic: getEnv("KAFKA_PRICE_TOPIC", "product-price-updates"),
		RequestTimeout:  getDurationEnv("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: 10 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()

	logger := newLogger()
	defer logger.Sync()
	log := logger.Sugar()

	ctx := context.Background()

	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatalw("failed to connect to MongoDB", "err", err)
	}
	if err := repository.EnsureIndexes(ctx, mongoDB); err != nil {
		log.Fatalw("failed to create indexes", "err", err)
	}
	store := repository.NewMongoStore(mongoDB)
	log.Infow("connected to MongoDB", "uri", cfg.MongoURI)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalw("Redis connection failed", "err", err)
	}
	log.Infow("connected to Redis", "addr", cfg.RedisAddr)

	cartCache := c.NewRedisCache(redisClient)
	priceClient := pricing.NewClient(cfg.PricingBaseURL, cfg.PricingTimeout, log)
	aggregator := s.NewCartAggregator(store, priceClient, cartCache, log)
	cartHandler := h.NewCartHandler(aggregator, cfg.RequestTimeout, log)

	pricePoller := poller.New(store, cartCache, log, cfg.KafkaPriceTopic, cfg.KafkaBrokers...)
	pollerCtx, cancelPoller := context.WithCancel(ctx)
	go pricePoller.Run(pollerCtx)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/cart/{userId}/cart", func(r chi.Router) {
		r.Get("/", cartHandler.GetCart)
		r.Post("/items", cartHandler.AddOrUpdateItem)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("cart service starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down cart service")
	cancelPoller()
	pricePoller.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}

	if err := mongoDB.Client().Disconnect(ctx); err != nil {
		log.Errorw("mongo disconnect error", "err", err)
	}
	log.Infow("cart service stopped")
}

func newLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if getEnv("APP_ENV", "dev") == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
