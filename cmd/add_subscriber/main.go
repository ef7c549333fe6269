package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/flashcur/marketpulse/internal/domain"
	"github.com/flashcur/marketpulse/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "marketpulse.db", "path to the store database")
	userID := flag.String("user", "", "subscriber user id (required)")
	email := flag.String("email", "", "email address")
	phone := flag.String("phone", "", "phone number in E.164 format")
	webhookURL := flag.String("webhook", "", "webhook URL")
	tier := flag.String("tier", "free", "tier: free, pro or elite")
	symbols := flag.String("symbols", "", "comma-separated watch list, empty watches everything")
	override := flag.Float64("multiplier", 0, "per-subscriber spike multiplier override, 0 uses the global threshold")
	flag.Parse()

	if *userID == "" {
		log.Fatal("-user is required")
	}

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	sub := &domain.Subscriber{
		UserID:             *userID,
		Email:              *email,
		Phone:              *phone,
		WebhookURL:         *webhookURL,
		Tier:               domain.ParseTier(*tier),
		MultiplierOverride: *override,
		Prefs: domain.Preferences{
			EmailEnabled:   *email != "",
			SMSEnabled:     *phone != "",
			WebhookEnabled: *webhookURL != "",
		},
	}
	if *symbols != "" {
		sub.Symbols = strings.Split(*symbols, ",")
	}

	if err := store.UpsertSubscriber(context.Background(), sub); err != nil {
		log.Fatalf("Failed to save subscriber: %v", err)
	}

	fmt.Printf("Subscriber %s saved (tier=%s)\n", sub.UserID, sub.Tier)
	if len(sub.Symbols) == 0 {
		fmt.Println("Watching: all tracked instruments")
	} else {
		fmt.Printf("Watching: %s\n", strings.Join(sub.Symbols, ", "))
	}
}
