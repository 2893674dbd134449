package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/beacon-im/beacon/internal/event"
	"github.com/beacon-im/beacon/internal/realtime"
)

var (
	serverURL string
	token     string
)

func main() {
	root := &cobra.Command{
		Use:   "beaconctl",
		Short: "Command-line client for a beacon server",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "server base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("BEACON_TOKEN"), "identity token")

	root.AddCommand(loginCmd(), listenCmd(), sendCmd(), seenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print an identity token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Token string `json:"token"`
			}
			err := post("/api/login", map[string]string{"email": email, "password": password}, &resp)
			if err != nil {
				return err
			}
			fmt.Println(resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func listenCmd() *cobra.Command {
	var email, conversationID string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to channels and print incoming events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			client, err := realtime.Dial(ctx, wsURL(), token)
			if err != nil {
				return err
			}
			defer client.Close()

			if email != "" {
				if err := client.Subscribe(ctx, event.UserChannel(email)); err != nil {
					return err
				}
			}
			if conversationID != "" {
				if err := client.Subscribe(ctx, event.ConversationChannel(conversationID)); err != nil {
					return err
				}
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case frame, ok := <-client.Events():
					if !ok {
						return client.Err()
					}
					fmt.Printf("%s  %s  %s\n", frame.Channel, frame.Event, frame.Data)
				}
			}
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "personal channel email to subscribe to")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation channel to subscribe to")
	return cmd
}

func sendCmd() *cobra.Command {
	var conversationID, message, image string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"conversationId": conversationID,
				"message":        message,
			}
			if image != "" {
				body["image"] = image
			}
			var msg json.RawMessage
			if err := post("/api/messages", body, &msg); err != nil {
				return err
			}
			fmt.Println(string(msg))
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&message, "message", "", "message body")
	cmd.Flags().StringVar(&image, "image", "", "image URL")
	cmd.MarkFlagRequired("conversation")
	return cmd
}

func seenCmd() *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "seen",
		Short: "Mark a conversation's latest message as seen",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conv json.RawMessage
			if err := post("/api/conversations/"+conversationID+"/seen", struct{}{}, &conv); err != nil {
				return err
			}
			fmt.Println(string(conv))
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id")
	cmd.MarkFlagRequired("conversation")
	return cmd
}

func wsURL() string {
	u := serverURL
	switch {
	case len(u) > 8 && u[:8] == "https://":
		u = "wss://" + u[8:]
	case len(u) > 7 && u[:7] == "http://":
		u = "ws://" + u[7:]
	}
	return u + "/ws"
}

func post(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
