//go:generate go run go.uber.org/mock/mockgen -source=user_service.go -destination=../mocks/mock_user_service.go -package=mocks
package services

import (
	"sort"

	"dm-chat/domain"
	"dm-chat/repositories"

	"github.com/samber/lo"
)

type IUserService interface {
	List(exceptID string) ([]domain.User, error)
	Get(id string) (domain.User, error)
}

type UserService struct {
	userRepository repositories.IUserRepository
}

func NewUserService(repo repositories.IUserRepository) *UserService {
	return &UserService{userRepository: repo}
}

// List returns every account except the given one, sorted by username.
func (s *UserService) List(exceptID string) ([]domain.User, error) {
	users, err := s.userRepository.ListUsers()
	if err != nil {
		return nil, err
	}

	filtered := lo.FilterMap(users, func(item repositories.User, _ int) (domain.User, bool) {
		return item.ToDomain(), item.ID != exceptID
	})
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Username < filtered[j].Username
	})
	return filtered, nil
}

func (s *UserService) Get(id string) (domain.User, error) {
	user, err := s.userRepository.GetUserByID(id)
	if err != nil {
		return domain.User{}, err
	}
	return user.ToDomain(), nil
}
