package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/roomwire/chatsync/internal/domain"
)

func (s *Server) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rooms := s.syncSvc.Rooms()
	if len(rooms) == 0 {
		return mcp.NewToolResultText("No rooms known yet. The room list may still be syncing."), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d room(s):\n\n", len(rooms)))

	for i, room := range rooms {
		kind := "Private"
		if room.Kind == domain.RoomKindGroup {
			kind = "Group"
		}

		result.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, room.Name, kind))
		result.WriteString(fmt.Sprintf("   ID: %s\n", room.ID))

		if unread := s.syncSvc.UnreadCount(room.ID); unread > 0 {
			result.WriteString(fmt.Sprintf("   Unread: %d message(s)\n", unread))
		}

		if room.LastMessage != nil {
			preview := room.LastMessage.Text
			if len(preview) > 60 {
				preview = preview[:60] + "..."
			}
			result.WriteString(fmt.Sprintf("   Last: %s\n", preview))
			result.WriteString(fmt.Sprintf("   Time: %s\n", room.LastMessage.Time.Format("2006-01-02 15:04")))
		}
		result.WriteString("\n")
	}

	return mcp.NewToolResultText(result.String()), nil
}

func (s *Server) handleListMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := domain.ParseRoomID(request.GetString("room_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid room_id: %v", err)), nil
	}

	limit := request.GetInt("limit", 50)
	if limit > 200 {
		limit = 200
	}
	if limit <= 0 {
		limit = 50
	}

	messages := s.syncSvc.Messages(roomID)
	if len(messages) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No messages loaded for room %s", roomID)), nil
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Messages in %s (%d):\n\n", roomID, len(messages)))

	for _, msg := range messages {
		sender := msg.SenderID.String()
		if msg.IsFromMe {
			sender = "Me"
		}

		result.WriteString(fmt.Sprintf("[%s] %s (%s):\n", msg.Timestamp.Format("2006-01-02 15:04"), sender, msg.Status))
		switch msg.Kind {
		case domain.MessageKindText:
			result.WriteString(fmt.Sprintf("  %s\n", msg.Text))
		case domain.MessageKindAttachment:
			result.WriteString(fmt.Sprintf("  [Attachment: %s] %s\n", msg.AttachmentName, msg.AttachmentURL))
		}
	}

	return mcp.NewToolResultText(result.String()), nil
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := domain.ParseRoomID(request.GetString("room_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid room_id: %v", err)), nil
	}
	text := request.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	msg, err := s.syncSvc.SendText(ctx, roomID, text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Message queued for delivery (id %s)", msg.ID)), nil
}

func (s *Server) handleMarkRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := domain.ParseRoomID(request.GetString("room_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid room_id: %v", err)), nil
	}

	s.syncSvc.MarkRoomRead(ctx, roomID)
	return mcp.NewToolResultText(fmt.Sprintf("Room %s marked as read", roomID)), nil
}

func (s *Server) handleUnreadTotal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("%d unread message(s) across all rooms", s.syncSvc.UnreadTotal())), nil
}
