package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"polymarket-notifier/api"
	"polymarket-notifier/config"
	"polymarket-notifier/handlers"
	"polymarket-notifier/models"
	"polymarket-notifier/notify"
	"polymarket-notifier/service"
	"polymarket-notifier/storage"
	"polymarket-notifier/syncer"
	"polymarket-notifier/telegram"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("NOTIFIER_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	store, err := storage.NewPostgres(
		cfg.Retention.RecentTxCap,
		time.Duration(cfg.Retention.OrphanTTLDays)*24*time.Hour,
	)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	dataClient := api.NewClient(cfg.Upstream.DataAPIURL, cfg.Upstream.PageLimit)
	tgClient := telegram.NewClient(token, os.Getenv("TELEGRAM_API_URL"))

	defaults := models.ChatConfig{
		Language:      models.Language(cfg.Notify.DefaultLanguage),
		MinAmountUSDC: cfg.Notify.DefaultMinAmount,
	}
	cache := service.NewSubscriberCache(store, defaults, cfg.Cache.HydratePageSize)

	notifier := syncer.NewNotifier(dataClient, tgClient, store, cache, cfg, notify.Render)
	sched := syncer.NewScheduler(notifier, cache, cfg)
	sched.EnsureRunning()
	defer sched.Stop()

	log.Printf("[main] poll loop armed (%dms interval)", cfg.Poll.IntervalMS)

	var live *api.LiveWatcher
	if cfg.Live.Enabled {
		live = api.NewLiveWatcher(cfg.Live.URL, func(address string) {
			sched.TickSoon()
		})
		live.SetWatchedAddresses(cache.Addresses())
		if err := live.Start(context.Background()); err != nil {
			log.Printf("[main] live watcher disabled: %v", err)
			live = nil
		} else {
			defer live.Stop()
		}
	}

	h := handlers.NewHandler(cfg, store, cache, tgClient)
	h.EnsureRunning = sched.EnsureRunning
	h.OnAddressChange = func() {
		if live != nil {
			live.SetWatchedAddresses(cache.Addresses())
		}
	}

	r := gin.Default()
	r.POST("/telegram/webhook", h.Webhook)
	r.GET("/healthz", h.Health)

	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	log.Printf("Server starting on http://localhost:%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
