package services_test

import (
	"testing"

	"dm-chat/mocks"
	"dm-chat/repositories"
	"dm-chat/services"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestUserService_List_Excludes_Self_And_Sorts(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userRepo := mocks.NewMockIUserRepository(ctrl)
	svc := services.NewUserService(userRepo)

	userRepo.EXPECT().ListUsers().Return([]repositories.User{
		{ID: "id-clara", Username: "clara"},
		{ID: "id-alice", Username: "alice"},
		{ID: "id-bob", Username: "bob"},
	}, nil).Times(1)

	users, err := svc.List("id-bob")

	req.NoError(err)
	req.Len(users, 2)
	req.Equal("alice", users[0].Username)
	req.Equal("clara", users[1].Username)
}

func TestUserService_Get_Hides_Password_Hash(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	userRepo := mocks.NewMockIUserRepository(ctrl)
	svc := services.NewUserService(userRepo)

	userRepo.EXPECT().GetUserByID("id-alice").
		Return(repositories.User{ID: "id-alice", Username: "alice", PasswordHash: "secret"}, nil).
		Times(1)

	user, err := svc.Get("id-alice")

	req.NoError(err)
	req.Equal("alice", user.Username)
}
