package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	roomsListJSON     bool
	roomsMessagesPage int
	roomsMessagesJSON bool
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Chat room commands",
	Long:  "List rooms, read message history, and manage room flags.",
}

// ============================================================================
// rooms list
// ============================================================================

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext(15 * time.Second)
		defer cancel()

		coord, store, _ := newEngine(ctx)
		if err := coord.InitialLoad(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		rooms := store.ChatRooms()
		if roomsListJSON {
			b, _ := json.MarshalIndent(rooms, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(rooms) == 0 {
			fmt.Println("No rooms found.")
			return nil
		}

		for _, r := range rooms {
			unread := ""
			if r.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", r.UnreadCount)
			}
			flags := ""
			if r.IsPinned {
				flags += " [pinned]"
			}
			if r.IsMuted {
				flags += " [muted]"
			}
			name := r.Name
			if name == "" {
				name = string(r.Type)
			}
			fmt.Printf("  %s: %s%s%s\n", r.ID, name, unread, flags)
		}
		fmt.Printf("Total unread: %d\n", coord.TotalUnread())
		return nil
	},
}

// ============================================================================
// rooms messages
// ============================================================================

var roomsMessagesCmd = &cobra.Command{
	Use:   "messages <room-id>",
	Short: "Show messages in a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		ctx, cancel := cmdContext(30 * time.Second)
		defer cancel()

		coord, store, _ := newEngine(ctx)
		if err := coord.InitialLoad(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if err := coord.ActivateRoom(ctx, roomID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		for p := 1; p < roomsMessagesPage && store.HasMore(); p++ {
			if err := coord.LoadOlder(ctx); err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
		}

		msgs := store.Messages()
		if roomsMessagesJSON {
			b, _ := json.MarshalIndent(msgs, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, m := range msgs {
			sender := m.SenderID
			if m.Sender != nil {
				sender = m.Sender.FirstName + " " + m.Sender.LastName
			}
			body := m.Content
			if body == "" && m.FileName != "" {
				body = "[file] " + m.FileName
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), sender, body)
		}
		return nil
	},
}

// ============================================================================
// rooms read / mute / unmute / pin / unpin / delete
// ============================================================================

var roomsReadCmd = &cobra.Command{
	Use:   "read <room-id>",
	Short: "Mark every message in a room as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext(10 * time.Second)
		defer cancel()

		coord, _, _ := newEngine(ctx)
		if err := coord.MarkRoomRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Room %s marked as read.\n", args[0])
		return nil
	},
}

var roomsMuteCmd = &cobra.Command{
	Use:   "mute <room-id>",
	Short: "Mute a room",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setMuted(args[0], true) },
}

var roomsUnmuteCmd = &cobra.Command{
	Use:   "unmute <room-id>",
	Short: "Unmute a room",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setMuted(args[0], false) },
}

func setMuted(roomID string, muted bool) error {
	ctx, cancel := cmdContext(10 * time.Second)
	defer cancel()

	coord, _, _ := newEngine(ctx)
	if err := coord.SetRoomMuted(ctx, roomID, muted); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if muted {
		fmt.Printf("Room %s muted.\n", roomID)
	} else {
		fmt.Printf("Room %s unmuted.\n", roomID)
	}
	return nil
}

var roomsPinCmd = &cobra.Command{
	Use:   "pin <room-id>",
	Short: "Pin a room",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPinned(args[0], true) },
}

var roomsUnpinCmd = &cobra.Command{
	Use:   "unpin <room-id>",
	Short: "Unpin a room",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPinned(args[0], false) },
}

func setPinned(roomID string, pinned bool) error {
	ctx, cancel := cmdContext(10 * time.Second)
	defer cancel()

	coord, _, _ := newEngine(ctx)
	if err := coord.SetRoomPinned(ctx, roomID, pinned); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if pinned {
		fmt.Printf("Room %s pinned.\n", roomID)
	} else {
		fmt.Printf("Room %s unpinned.\n", roomID)
	}
	return nil
}

var roomsDeleteCmd = &cobra.Command{
	Use:   "delete <room-id>",
	Short: "Delete, hide, or leave a room",
	Long:  "The backend decides the outcome: direct rooms are hidden, owned group rooms are deleted, other group rooms are left.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext(10 * time.Second)
		defer cancel()

		coord, _, _ := newEngine(ctx)
		result, err := coord.DeleteOrLeaveRoom(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		switch {
		case result.Deleted:
			fmt.Printf("Room %s deleted.\n", args[0])
		case result.Hidden:
			fmt.Printf("Room %s hidden.\n", args[0])
		case result.Left:
			fmt.Printf("Left room %s.\n", args[0])
		default:
			fmt.Printf("Room %s removed.\n", args[0])
		}
		return nil
	},
}

func init() {
	roomsListCmd.Flags().BoolVar(&roomsListJSON, "json", false, "Output raw JSON")

	roomsMessagesCmd.Flags().IntVarP(&roomsMessagesPage, "pages", "n", 1, "Number of pages to load")
	roomsMessagesCmd.Flags().BoolVar(&roomsMessagesJSON, "json", false, "Output raw JSON")

	roomsCmd.AddCommand(roomsListCmd)
	roomsCmd.AddCommand(roomsMessagesCmd)
	roomsCmd.AddCommand(roomsReadCmd)
	roomsCmd.AddCommand(roomsMuteCmd)
	roomsCmd.AddCommand(roomsUnmuteCmd)
	roomsCmd.AddCommand(roomsPinCmd)
	roomsCmd.AddCommand(roomsUnpinCmd)
	roomsCmd.AddCommand(roomsDeleteCmd)

	rootCmd.AddCommand(roomsCmd)
}
