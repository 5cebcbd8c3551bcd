package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	chatsync "github.com/tarzan-1984/odyssea-chat-go"
	"github.com/spf13/cobra"
)

var watchRoomID string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream push events until interrupted",
	Long:  "Connect to the push channel and print incoming messages and notifications live. Use --room to follow one room's messages in place of toast notifications for it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, cfg := getClient()
		cache, err := newCache(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}

		notifier := chatsync.NewNotifier()
		notifier.OnToast(func(t chatsync.Toast) {
			fmt.Printf("* %s / %s: %s\n", t.RoomName, t.Sender, t.Body)
		})

		store := chatsync.NewStore(cache, nil)
		coord := chatsync.NewCoordinator(client, store, cache,
			chatsync.WithSession(cfg.Default.UserID, func() bool { return cfg.Default.APIToken != "" }),
			chatsync.WithNotifier(notifier),
		)

		loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = coord.InitialLoad(loadCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("initial load failed: %w", err)
		}

		if watchRoomID != "" {
			actCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := coord.ActivateRoom(actCtx, watchRoomID)
			cancel()
			if err != nil {
				return fmt.Errorf("activate room failed: %w", err)
			}
		}

		push := chatsync.NewPushClient(cfg.Default.BaseURL, chatsync.PushConfig{
			Token:         cfg.Default.APIToken,
			AutoReconnect: true,
		})
		push.OnEvent(coord.HandlePushEvent)
		push.OnConnected(func() {
			syncCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := coord.Resync(syncCtx); err != nil {
				fmt.Fprintf(os.Stderr, "resync failed: %v\n", err)
			}
		})
		push.OnDisconnected(func(reason string) {
			fmt.Fprintf(os.Stderr, "disconnected: %s\n", reason)
		})
		push.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Fprintf(os.Stderr, "reconnecting (attempt %d) in %s\n", attempt, delay)
		})

		if err := push.Connect(ctx); err != nil {
			return fmt.Errorf("push connect failed: %w", err)
		}
		defer push.Disconnect()

		fmt.Println("Watching for events. Press Ctrl-C to stop.")

		if watchRoomID != "" {
			// Poll the window and print messages as they land.
			printed := map[string]bool{}
			for _, m := range store.Messages() {
				printed[m.ID] = true
			}
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					for _, m := range store.Messages() {
						if printed[m.ID] {
							continue
						}
						printed[m.ID] = true
						sender := m.SenderID
						if m.Sender != nil {
							sender = m.Sender.FirstName + " " + m.Sender.LastName
						}
						fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), sender, m.Content)
					}
				}
			}
		}

		<-ctx.Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchRoomID, "room", "", "Follow a single room's messages")

	rootCmd.AddCommand(watchCmd)
}
