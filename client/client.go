package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddress string `env:"CHAT_SERVER_ADDR,default=localhost:8080"`
	Email         string `env:"CHAT_EMAIL,required=true"`
	Password      string `env:"CHAT_PASSWORD,required=true"`
	PeerID        string `env:"CHAT_PEER_ID,required=true"`
	LogLevel      string `env:"LOG_LEVEL,required=true"`
}

func main() {
	// The main function manages the OS exit code based on run()'s return.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v", err)
	}
	os.Exit(code)
}

// run handles the client lifecycle: login over HTTP, then a websocket
// session that types stdin lines to the configured peer and prints
// every frame the server pushes.
func run() (int, error) {
	// 1. Load configuration from environment variables.
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Setup context to handle termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Exchange credentials for a session token.
	token, err := login(config)
	if err != nil {
		return exitRuntime, err
	}

	// 4. Open the websocket and authenticate the connection.
	url := fmt.Sprintf("ws://%s/ws", config.ServerAddress)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerAddress, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()

	if err := writeFrame(conn, map[string]any{"type": "auth", "token": token}); err != nil {
		return exitRuntime, err
	}

	log.Info(fmt.Sprintf(">>> Connected to %s! Chatting with %s (Ctrl+C to quit)...",
		config.ServerAddress, config.PeerID))

	// 5. Stdin loop: every line becomes a message to the peer.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			content := strings.TrimSpace(scanner.Text())
			if content == "" {
				continue
			}
			frame := map[string]any{"type": "send_message", "receiverId": config.PeerID, "content": content}
			if err := writeFrame(conn, frame); err != nil {
				return
			}
		}
	}()

	// Unblock the reception loop when a signal arrives.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	// 6. Frame reception loop.
	// This loop runs until the context is canceled or the server closes the connection.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Normal exit if the user triggered a shutdown.
			if ctx.Err() != nil {
				log.Info("Stopping client...")
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("connection error: %w", err)
		}
		printFrame(log, raw)
	}
}

func login(config Config) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": config.Email, "password": config.Password})
	url := fmt.Sprintf("http://%s/api/auth/login", config.ServerAddress)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login rejected with status %d", resp.StatusCode)
	}

	var decoded struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("login response unreadable: %w", err)
	}
	return decoded.Token, nil
}

func writeFrame(conn *websocket.Conn, frame map[string]any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// printFrame renders a pushed frame for the terminal.
func printFrame(log *slog.Logger, raw []byte) {
	var frame struct {
		Type    string   `json:"type"`
		Message *struct {
			Content   string    `json:"content"`
			CreatedAt time.Time `json:"createdAt"`
			Sender    struct {
				Username string `json:"username"`
			} `json:"sender"`
		} `json:"message"`
		Users    []string `json:"users"`
		SenderID string   `json:"senderId"`
		IsTyping bool     `json:"isTyping"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Info(string(raw))
		return
	}

	switch frame.Type {
	case "new_message", "message_sent":
		if frame.Message != nil {
			log.Info(fmt.Sprintf("[%s] %s: %s",
				frame.Message.CreatedAt.Format(time.TimeOnly),
				frame.Message.Sender.Username,
				frame.Message.Content))
			return
		}
	case "online_users":
		log.Info(fmt.Sprintf("Online: %s", strings.Join(frame.Users, ", ")))
		return
	case "typing":
		if frame.IsTyping {
			log.Info(fmt.Sprintf("%s is typing...", frame.SenderID))
		}
		return
	}
	log.Info(string(raw))
}
