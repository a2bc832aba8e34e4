package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"randomchat/backend/internal/chathub"
	"randomchat/backend/internal/config"
	"randomchat/backend/internal/delivery"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/pubsub"
	"randomchat/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const usage = `Usage: admin <command> [args]

Commands:
  queue                     list users waiting for a partner
  sessions                  list active chat sessions
  end <chat_session_id>     end a chat session and notify its subscribers
  dequeue <user_id>         stop a user's search
  user <user_id>            show a user and their active session`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg := config.Load()
	appLog := logger.New(logger.Config{Level: "warn"})

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	store := storage.NewStorageService(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch command := os.Args[1]; command {
	case "queue":
		if err := listQueue(ctx, store); err != nil {
			log.Fatalf("Error listing queue: %v", err)
		}
	case "sessions":
		if err := listSessions(ctx, store); err != nil {
			log.Fatalf("Error listing sessions: %v", err)
		}
	case "end":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin end <chat_session_id>")
			os.Exit(1)
		}
		broker, closeBroker := newBroker(cfg, db, appLog)
		defer closeBroker()
		if err := endSession(ctx, store, broker, cfg, appLog, os.Args[2]); err != nil {
			log.Fatalf("Error ending session: %v", err)
		}
		fmt.Printf("Chat session %s has been ended.\n", os.Args[2])
	case "dequeue":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin dequeue <user_id>")
			os.Exit(1)
		}
		matcher := chathub.NewMatcherService(store, cfg.Matchmaking.CandidateBatch, nil, appLog)
		if err := matcher.StopSearch(ctx, os.Args[2]); err != nil {
			log.Fatalf("Error dequeuing user: %v", err)
		}
		fmt.Printf("User %s is no longer searching.\n", os.Args[2])
	case "user":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin user <user_id>")
			os.Exit(1)
		}
		if err := showUser(ctx, store, os.Args[2]); err != nil {
			log.Fatalf("Error loading user: %v", err)
		}
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

// newBroker connects to the configured push backend so ended sessions reach
// live subscribers. The in-memory backend cannot cross processes.
func newBroker(cfg *config.Config, db *gorm.DB, appLog *logger.Logger) (pubsub.Broker, func()) {
	switch cfg.Delivery.Backend {
	case config.BackendPostgres:
		b := pubsub.NewPostgresBroker(db, cfg.PostgresDSN(), appLog)
		return b, func() { _ = b.Close() }
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b := pubsub.NewRedisBroker(rdb, appLog)
		return b, func() {
			_ = b.Close()
			_ = rdb.Close()
		}
	default:
		log.Println("Warning: memory push backend, subscribers will notice the end by polling")
		b := pubsub.NewMemoryBroker()
		return b, func() { _ = b.Close() }
	}
}

func listQueue(ctx context.Context, s storage.Storage) error {
	n, err := s.QueueLength(ctx)
	if err != nil {
		return err
	}
	entries, err := s.ListWaiting(ctx, "", int(n))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER ID\tJOINED AT\tWAITING")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.UserID, e.JoinedAt.Format(time.RFC3339), time.Since(e.JoinedAt).Round(time.Second))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	// Entries of users already in a session are stale and not listed.
	fmt.Printf("%d listed, %d queue rows\n", len(entries), n)
	return nil
}

func listSessions(ctx context.Context, s storage.Storage) error {
	sessions, err := s.ListActiveSessions(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION ID\tUSER 1\tUSER 2\tSTARTED AT")
	for _, cs := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cs.ID, cs.User1ID, cs.User2ID, cs.StartedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func endSession(ctx context.Context, s storage.Storage, b pubsub.Broker, cfg *config.Config, appLog *logger.Logger, sessionID string) error {
	session, err := s.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	runner := delivery.NewRunner(cfg.Delivery.SubscribeTimeout, cfg.Delivery.PollInterval, appLog)
	coordinator := chathub.NewDeliveryCoordinator(b, s, runner, nil, appLog)
	sessions := chathub.NewSessionService(s, coordinator, nil, appLog)
	// Ended on behalf of the user whose search created the session.
	return sessions.EndSession(ctx, session.ID, session.User1ID)
}

func showUser(ctx context.Context, s storage.Storage, userID string) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	active, err := s.GetActiveSessionForUser(ctx, userID)
	if err != nil {
		return err
	}
	queued, err := s.IsQueued(ctx, userID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]any{
		"user":        user,
		"queued":      queued,
		"chatSession": active,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
