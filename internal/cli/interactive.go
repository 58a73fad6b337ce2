// Package cli is a small interactive front end for the sync core. It plays
// the role a UI layer would: invoking orchestrator operations and rendering
// state changes pushed over the event bus.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/roomwire/chatsync/internal/domain"
	"github.com/roomwire/chatsync/internal/service"
)

// InteractiveCLI handles the interactive command loop
type InteractiveCLI struct {
	syncSvc *service.SyncService
	bus     domain.EventBus
	reader  *bufio.Reader
	writer  io.Writer
}

func NewInteractiveCLI(syncSvc *service.SyncService, bus domain.EventBus) *InteractiveCLI {
	return &InteractiveCLI{
		syncSvc: syncSvc,
		bus:     bus,
		reader:  bufio.NewReader(os.Stdin),
		writer:  os.Stdout,
	}
}

// Run starts the interactive loop.
func (cli *InteractiveCLI) Run(ctx context.Context) error {
	cli.printWelcome()

	eventChan := cli.bus.Subscribe([]domain.EventType{
		domain.EventTypeMessageAppended,
		domain.EventTypeMessageReplaced,
		domain.EventTypeMessageStatus,
		domain.EventTypeUnreadChanged,
		domain.EventTypeConnectionStatus,
	})
	defer cli.bus.Unsubscribe(eventChan)

	go cli.handleEvents(eventChan)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			cli.print("\n> ")
			line, err := cli.reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				cli.println("Goodbye!")
				return nil
			}

			if err := cli.processCommand(ctx, line); err != nil {
				cli.printf("Error: %s\n", err)
			}
		}
	}
}

func (cli *InteractiveCLI) printWelcome() {
	cli.println("===========================================")
	cli.println("  chatsync CLI")
	cli.println("===========================================")
	cli.println("Commands: rooms | open <room> | send <text> | attach <url> | more | read | leave | unread | quit")
}

func (cli *InteractiveCLI) processCommand(ctx context.Context, input string) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "rooms":
		return cli.cmdRooms()
	case "open":
		roomID, err := domain.ParseRoomID(arg)
		if err != nil {
			return err
		}
		if err := cli.syncSvc.SelectRoom(ctx, roomID); err != nil {
			return err
		}
		return cli.cmdMessages()
	case "send":
		return cli.requireActive(func(roomID domain.RoomID) error {
			_, err := cli.syncSvc.SendText(ctx, roomID, arg)
			return err
		})
	case "attach":
		return cli.requireActive(func(roomID domain.RoomID) error {
			_, err := cli.syncSvc.SendAttachment(ctx, roomID, arg, "application/octet-stream")
			return err
		})
	case "more":
		return cli.requireActive(func(roomID domain.RoomID) error {
			return cli.syncSvc.LoadMoreMessages(ctx, roomID)
		})
	case "read":
		return cli.requireActive(func(roomID domain.RoomID) error {
			cli.syncSvc.MarkRoomRead(ctx, roomID)
			return nil
		})
	case "leave":
		return cli.requireActive(func(roomID domain.RoomID) error {
			cli.syncSvc.UnsubscribeFromRoom(ctx, roomID)
			return nil
		})
	case "unread":
		cli.printf("%d unread message(s) total\n", cli.syncSvc.UnreadTotal())
		return nil
	case "help":
		cli.printWelcome()
		return nil
	}
	return fmt.Errorf("unknown command %q, type help", name)
}

func (cli *InteractiveCLI) requireActive(fn func(domain.RoomID) error) error {
	roomID := cli.syncSvc.ActiveRoom()
	if roomID.IsZero() {
		return fmt.Errorf("no room open, use: open <room>")
	}
	return fn(roomID)
}

func (cli *InteractiveCLI) cmdRooms() error {
	rooms := cli.syncSvc.Rooms()
	if len(rooms) == 0 {
		cli.println("No rooms yet.")
		return nil
	}
	for _, room := range rooms {
		marker := " "
		if cli.syncSvc.ActiveRoom() == room.ID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s [%s]", marker, room.Name, room.ID)
		if n := cli.syncSvc.UnreadCount(room.ID); n > 0 {
			line += fmt.Sprintf(" (%d unread)", n)
		}
		if room.LastMessage != nil {
			line += " - " + truncate(room.LastMessage.Text, 40)
		}
		cli.println(line)
	}
	return nil
}

func (cli *InteractiveCLI) cmdMessages() error {
	roomID := cli.syncSvc.ActiveRoom()
	for _, msg := range cli.syncSvc.Messages(roomID) {
		cli.printMessage(msg)
	}
	return nil
}

func (cli *InteractiveCLI) handleEvents(events <-chan domain.Event) {
	for event := range events {
		switch e := event.(type) {
		case domain.MessageAppendedEvent:
			if e.Message.RoomID == cli.syncSvc.ActiveRoom() {
				cli.printMessage(e.Message)
			}
		case domain.MessageReplacedEvent:
			cli.printf("  (confirmed %s -> %s)\n", truncate(e.TempID, 12), e.Message.ID)
		case domain.MessageStatusEvent:
			cli.printf("  (message %s is now %s)\n", e.MessageID, e.Status)
		case domain.UnreadChangedEvent:
			if e.Count > 0 {
				cli.printf("  (room %s: %d unread)\n", e.RoomID, e.Count)
			}
		case domain.ConnectionStatusEvent:
			if e.Connected {
				cli.println("  (connected)")
			} else {
				cli.printf("  (disconnected: %s)\n", e.Reason)
			}
		}
	}
}

func (cli *InteractiveCLI) printMessage(msg *domain.Message) {
	sender := msg.SenderID.String()
	if msg.IsFromMe {
		sender = "me"
	}
	body := msg.Text
	if msg.Kind == domain.MessageKindAttachment {
		body = fmt.Sprintf("[%s] %s", msg.AttachmentName, msg.AttachmentURL)
	}
	cli.printf("[%s] %s: %s (%s)\n", msg.Timestamp.Format("15:04:05"), sender, body, msg.Status)
}

func (cli *InteractiveCLI) print(s string)               { fmt.Fprint(cli.writer, s) }
func (cli *InteractiveCLI) println(s string)             { fmt.Fprintln(cli.writer, s) }
func (cli *InteractiveCLI) printf(f string, args ...any) { fmt.Fprintf(cli.writer, f, args...) }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
