package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"
)

type testDirectMessageSuite struct {
	BaseHTTPSuite
}

func TestDirectMessageSuite(t *testing.T) {
	suite.Run(t, &testDirectMessageSuite{})
}

func (s *testDirectMessageSuite) TestFullDirectMessageFlow() {
	aliceToken, aliceID := s.RegisterUser("alice", "alice@example.com")
	bobToken, bobID := s.RegisterUser("bob", "bob@example.com")

	alice := s.DialWS()
	bob := s.DialWS()

	s.Run("Step 1: Both users authenticate and see each other online", func() {
		s.SendFrame(alice, fmt.Sprintf(`{"type":"auth","token":%q}`, aliceToken))
		success := s.WaitForFrame(alice, "auth_success")
		s.Require().Equal(aliceID, success["userId"])

		s.SendFrame(bob, fmt.Sprintf(`{"type":"auth","token":%q}`, bobToken))
		s.WaitForFrame(bob, "auth_success")

		roster := s.WaitForFrame(alice, "online_users")
		for s.rosterSize(roster) < 2 {
			roster = s.WaitForFrame(alice, "online_users")
		}
		s.Require().ElementsMatch([]any{aliceID, bobID}, roster["users"])
	})

	s.Run("Step 2: A message travels from Alice to Bob with an ack", func() {
		s.SendFrame(alice, fmt.Sprintf(`{"type":"send_message","receiverId":%q,"content":"hello bob"}`, bobID))

		delivered := s.WaitForFrame(bob, "new_message")
		message := delivered["message"].(map[string]any)
		s.Require().Equal("hello bob", message["content"])
		s.Require().Equal("alice", message["sender"].(map[string]any)["username"])

		ack := s.WaitForFrame(alice, "message_sent")
		s.Require().Equal("hello bob", ack["message"].(map[string]any)["content"])
	})

	s.Run("Step 3: Typing indicator reaches the receiver", func() {
		s.SendFrame(alice, fmt.Sprintf(`{"type":"typing","receiverId":%q,"isTyping":true}`, bobID))

		notice := s.WaitForFrame(bob, "typing")
		s.Require().Equal(aliceID, notice["senderId"])
		s.Require().Equal(true, notice["isTyping"])
	})

	s.Run("Step 4: The conversation is readable over the REST API", func() {
		req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/messages/"+aliceID, nil)
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+bobToken)
		resp, err := http.DefaultClient.Do(req)
		s.Require().NoError(err)
		defer func() { _ = resp.Body.Close() }()
		s.Require().Equal(http.StatusOK, resp.StatusCode)

		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
		s.Require().Len(body.Messages, 1)
		s.Require().Equal("hello bob", body.Messages[0].Content)
	})

	s.Run("Step 5: Closing Bob's connection updates Alice's roster", func() {
		s.Require().NoError(bob.Close())

		roster := s.WaitForFrame(alice, "online_users")
		for s.rosterSize(roster) > 1 {
			roster = s.WaitForFrame(alice, "online_users")
		}
		s.Require().ElementsMatch([]any{aliceID}, roster["users"])
	})
}

func (s *testDirectMessageSuite) TestInvalidTokenIsRejectedWithClose() {
	conn := s.DialWS()

	s.SendFrame(conn, `{"type":"auth","token":"forged"}`)

	frame := s.WaitForFrame(conn, "auth_error")
	s.Require().Equal("Invalid token", frame["message"])

	// The server closes after the auth_error; the next read fails.
	_, _, err := conn.ReadMessage()
	s.Require().Error(err)
}

func (s *testDirectMessageSuite) rosterSize(frame map[string]any) int {
	users, ok := frame["users"].([]any)
	s.Require().True(ok)
	return len(users)
}
