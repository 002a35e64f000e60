package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/auth"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/connection"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/media"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/rest"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/service"
)

var (
	serverURL = flag.String("server", "ws://localhost:8080/ws", "relay websocket URL")
	apiURL    = flag.String("api", "http://localhost:8080/api", "relay REST base URL")
	token     = flag.String("token", "", "bearer credential (minted locally when -secret is set)")
	secret    = flag.String("secret", "", "JWT secret for local token minting (dev only)")
	userID    = flag.String("user", "", "user id, required with -secret")
	listingID = flag.String("listing", "", "listing to open a conversation for")
	sellerID  = flag.String("seller", "", "seller of the listing")
	logLevel  = flag.String("log", "warn", "log level")
)

func main() {
	flag.Parse()

	credential := *token
	self := *userID
	if credential == "" {
		if *secret == "" || self == "" {
			log.Fatal("either -token or -secret with -user is required")
		}
		minted, err := auth.SignToken(*secret, self, 24*time.Hour)
		if err != nil {
			log.Fatalf("failed to mint token: %v", err)
		}
		credential = minted
	}

	logg := logger.NewLogger(*logLevel, "")
	conn := connection.NewManager(*serverURL, logg)
	api := rest.NewClient(*apiURL, credential, logg)

	chat := service.NewChatService(self, conn, service.Collaborators{
		History:  api,
		Uploader: api,
		Marker:   api,
		Rooms:    api,
	}, logg)

	chat.On(domain.EventConnectionStatus, func(data json.RawMessage) {
		var status domain.ConnectionStatusPayload
		if json.Unmarshal(data, &status) == nil && !status.Connected {
			fmt.Println("-- connection lost, retrying --")
		}
	})
	chat.On(domain.EventNewMessage, func(json.RawMessage) { render(chat) })
	chat.On(domain.EventUnreadCounts, func(data json.RawMessage) {
		var counts domain.UnreadCountsPayload
		if json.Unmarshal(data, &counts) == nil {
			fmt.Printf("-- %d unread across %d chats --\n", counts.Total, len(counts.Counts))
		}
	})

	if err := chat.Connect(credential); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer chat.Disconnect()

	ctx := context.Background()
	if *listingID != "" {
		room, err := chat.OpenListing(ctx, *listingID, *sellerID)
		if err != nil {
			log.Fatalf("open listing: %v", err)
		}
		fmt.Printf("Opened room %s (listing %s)\n", room.ID, room.ListingID)
		render(chat)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		chat.Disconnect()
		os.Exit(0)
	}()

	fmt.Println("Type messages, /image <path> to send a picture, /quit to exit:")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/image "):
			sendImage(ctx, chat, strings.TrimPrefix(line, "/image "))
		default:
			chat.NotifyTyping()
			if err := chat.SendText(line); err != nil {
				fmt.Printf("-- send failed: %v --\n", err)
			}
		}
	}
}

func sendImage(ctx context.Context, chat service.ChatService, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("-- cannot open %s: %v --\n", path, err)
		return
	}
	att := media.Attachment{
		Name:    f.Name(),
		Preview: "file://" + path,
		Content: f,
		Release: func() { f.Close() },
	}
	go func() {
		if err := chat.SendImage(ctx, att); err != nil {
			fmt.Printf("-- image send failed: %v --\n", err)
		}
	}()
}

func render(chat service.ChatService) {
	for _, msg := range chat.Timeline() {
		marker := " "
		if msg.State == domain.DeliveryPending {
			marker = "…"
		}
		body := msg.Body
		if msg.Type == domain.MessageTypeImage {
			body = "[image] " + msg.MediaURL + msg.Preview
		}
		fmt.Printf("%s [%s] %s: %s\n", marker, msg.CreatedAt.Local().Format("15:04:05"), msg.SenderID, body)
	}
}
