// Package e2e spins up the whole server in-process, backed by a real
// Badger database, and drives it through the public HTTP and websocket
// surface the way a client would.
package e2e

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"dm-chat/auth"
	"dm-chat/repositories"
	"dm-chat/runtime"
	"dm-chat/server"
	"dm-chat/services"

	"github.com/dgraph-io/badger/v4"
)

const frameTimeout = 2 * time.Second

type BaseHTTPSuite struct {
	suite.Suite

	db       *badger.DB
	registry *runtime.Registry
	server   *httptest.Server
}

func (s *BaseHTTPSuite) SetupTest() {
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(s.T().TempDir()).WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)
	s.db = db

	registry := runtime.NewRegistry()
	presence := runtime.NewBroadcaster(log, registry)
	messageRepository := repositories.NewMessageRepository(db, log, nil)
	userRepository := repositories.NewUserRepository(db)
	messageService := services.NewMessageService(messageRepository, userRepository)
	relay := runtime.NewRelay(log, registry, messageService, presence)
	authService := services.NewAuthService(userRepository, time.Minute)
	userService := services.NewUserService(userRepository)

	srv := server.New(s.T().Context(), log, registry, presence, relay, auth.TokenValidator{},
		authService, userService, messageService, 16, time.Second)
	s.registry = registry
	s.server = httptest.NewServer(srv.Routes())
}

func (s *BaseHTTPSuite) TearDownTest() {
	s.registry.Shutdown()
	s.server.Close()
	_ = s.db.Close()
}

// RegisterUser creates an account over the API and returns its token
// and user id.
func (s *BaseHTTPSuite) RegisterUser(username, email string) (token, userID string) {
	body := fmt.Sprintf(`{"username":%q,"email":%q,"password":"Curr3nt$ecretPass!"}`,
		username, email)
	resp, err := http.Post(s.server.URL+"/api/auth/register", "application/json", strings.NewReader(body))
	s.Require().NoError(err)
	defer func() { _ = resp.Body.Close() }()
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var decoded struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded.Token, decoded.User.ID
}

// DialWS opens a websocket connection against the running server.
func (s *BaseHTTPSuite) DialWS() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *BaseHTTPSuite) SendFrame(conn *websocket.Conn, frame string) {
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// WaitForFrame reads frames until one of the wanted type arrives and
// returns it decoded into a generic map. Other frame types received in
// between are discarded, so assertions stay independent of broadcast
// interleaving.
func (s *BaseHTTPSuite) WaitForFrame(conn *websocket.Conn, wantType string) map[string]any {
	deadline := time.Now().Add(frameTimeout)
	for {
		s.Require().NoError(conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		s.Require().NoError(err, "waiting for %q frame", wantType)

		var frame map[string]any
		s.Require().NoError(json.Unmarshal(raw, &frame))
		if frame["type"] == wantType {
			return frame
		}
	}
}
