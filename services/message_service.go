//go:generate go run go.uber.org/mock/mockgen -source=message_service.go -destination=../mocks/mock_message_service.go -package=mocks
package services

import (
	"context"
	"time"

	"dm-chat/domain"
	"dm-chat/repositories"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// IMessageService is the message-store collaborator of the relay plus
// the history-query side of the HTTP API. Persist assigns the record's
// ID and timestamp and returns it enriched with sender/receiver
// usernames.
type IMessageService interface {
	Persist(ctx context.Context, senderID, receiverID, content string) (domain.Message, error)
	Conversation(userA, userB string, cursor *string) ([]domain.Message, *string, error)
}

type MessageService struct {
	messageRepository repositories.IMessageRepository
	userRepository    repositories.IUserRepository
}

func NewMessageService(messageRepository repositories.IMessageRepository,
	userRepository repositories.IUserRepository) *MessageService {
	return &MessageService{
		messageRepository: messageRepository,
		userRepository:    userRepository,
	}
}

func (s *MessageService) Persist(_ context.Context, senderID, receiverID, content string) (domain.Message, error) {
	sender, err := s.userRepository.GetUserByID(senderID)
	if err != nil {
		return domain.Message{}, err
	}
	receiver, err := s.userRepository.GetUserByID(receiverID)
	if err != nil {
		return domain.Message{}, err
	}

	record := repositories.DiskMessage{
		ID:       uuid.New(),
		Sender:   senderID,
		Receiver: receiverID,
		Content:  content,
		At:       time.Now().UTC(),
	}
	if err := s.messageRepository.StoreMessage(record); err != nil {
		return domain.Message{}, err
	}

	return domain.Message{
		ID:        record.ID,
		Sender:    domain.UserRef{ID: sender.ID, Username: sender.Username},
		Receiver:  domain.UserRef{ID: receiver.ID, Username: receiver.Username},
		Content:   record.Content,
		CreatedAt: record.At,
	}, nil
}

// Conversation returns one page of the history between two users in
// chronological order, usernames resolved, shaped exactly like the
// records the relay pushes.
func (s *MessageService) Conversation(userA, userB string, cursor *string) ([]domain.Message, *string, error) {
	diskMessages, nextCursor, err := s.messageRepository.GetConversation(userA, userB, cursor)
	if err != nil {
		return nil, nil, err
	}

	// Two participants at most, resolved once per page.
	names := map[string]string{}
	for _, id := range []string{userA, userB} {
		if user, err := s.userRepository.GetUserByID(id); err == nil {
			names[id] = user.Username
		}
	}

	messages := lo.Map(diskMessages, func(item repositories.DiskMessage, _ int) domain.Message {
		return domain.Message{
			ID:        item.ID,
			Sender:    domain.UserRef{ID: item.Sender, Username: names[item.Sender]},
			Receiver:  domain.UserRef{ID: item.Receiver, Username: names[item.Receiver]},
			Content:   item.Content,
			CreatedAt: item.At,
		}
	})
	return messages, nextCursor, nil
}
