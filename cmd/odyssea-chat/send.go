package main

import (
	"fmt"
	"time"

	chatsync "github.com/tarzan-1984/odyssea-chat-go"
	"github.com/spf13/cobra"
)

var (
	sendFileURL  string
	sendFileName string
	sendFileSize int64
)

var sendCmd = &cobra.Command{
	Use:   "send <room-id> <message>",
	Short: "Send a message to a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, content := args[0], args[1]

		ctx, cancel := cmdContext(15 * time.Second)
		defer cancel()

		coord, _, _ := newEngine(ctx)

		msg, err := coord.SendMessage(ctx, chatsync.SendMessageInput{
			ChatRoomID: roomID,
			Content:    content,
			FileURL:    sendFileURL,
			FileName:   sendFileName,
			FileSize:   sendFileSize,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message sent to room %s\n", roomID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Content:    %s\n", msg.Content)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendFileURL, "file-url", "", "Attachment URL")
	sendCmd.Flags().StringVar(&sendFileName, "file-name", "", "Attachment file name")
	sendCmd.Flags().Int64Var(&sendFileSize, "file-size", 0, "Attachment size in bytes")

	rootCmd.AddCommand(sendCmd)
}
