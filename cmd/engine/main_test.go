package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gator-forum/internal/api"
	"gator-forum/internal/config"
	"gator-forum/internal/database"
	"gator-forum/internal/notify"
	"gator-forum/internal/reputation"
	"gator-forum/internal/websocket"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-simpler.org/env"
)

type harness struct {
	t   *testing.T
	app *App
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg, err := config.Load(env.Map{"VOTE_RETRY_BACKOFF": "1ms"})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := NewApp(cfg, logger, database.NewMemoryStore())
	go app.hub.Run()
	srv := httptest.NewServer(app.handler)
	t.Cleanup(func() {
		srv.Close()
		app.Close(context.Background())
	})
	return &harness{t: t, app: app, srv: srv}
}

func (h *harness) post(path, token string, body any) *http.Response {
	h.t.Helper()
	return h.send(http.MethodPost, path, token, body)
}

func (h *harness) send(method, path, token string, body any) *http.Response {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) createUser(name string) api.CreateUserResponse {
	h.t.Helper()
	resp := h.post("/users", "", api.CreateUserRequest{Username: name})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode)
	var out api.CreateUserResponse
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (h *harness) dial(token string) *gws.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForEvent reads frames until one carries event.
func waitForEvent(t *testing.T, conn *gws.Conn, event string) websocket.ServerFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame websocket.ServerFrame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s", event)
		if frame.Event == event {
			return frame
		}
	}
}

func TestVoteBroadcastFlow(t *testing.T) {
	h := newHarness(t)
	alice := h.createUser("alice")
	bob := h.createUser("bob")

	resp := h.post("/votables", "", api.CreateVotableRequest{ID: "q1", Kind: "question", AuthorUsername: "bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn := h.dial(bob.Token)
	waitForEvent(t, conn, websocket.EventLoggedIn)
	require.NoError(t, conn.WriteJSON(websocket.ClientFrame{Type: "subscribe", Room: "question:q1"}))
	require.Eventually(t, func() bool { return h.app.hub.RoomSize("question:q1") == 1 }, 2*time.Second, 10*time.Millisecond)

	resp = h.post("/votes/question/q1", alice.Token, api.VoteRequest{Direction: "up"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result reputation.VoteResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, []string{"alice"}, result.UpVoters)

	frame := waitForEvent(t, conn, notify.EventVoteUpdated)
	raw, err := json.Marshal(frame.Payload)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"upCount":1`)

	// Bob's first question unlocks First Step, pushed to his session.
	resp = h.post("/activity", bob.Token, api.ActivityRequest{Kind: "question_asked"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frame = waitForEvent(t, conn, notify.EventAchievementUnlocked)
	raw, err = json.Marshal(frame.Payload)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "First Step")
}

func TestCommunityNotificationFlow(t *testing.T) {
	h := newHarness(t)
	bob := h.createUser("bob")
	carol := h.createUser("carol")

	for _, name := range []string{"bob", "carol"} {
		resp := h.post("/preferences", "", api.PreferenceRequest{Username: name, CommunityKey: "golang", Preference: "newQuestions"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	conn := h.dial(bob.Token)
	waitForEvent(t, conn, websocket.EventLoggedIn)

	resp := h.post("/notifications/community", carol.Token, api.NotifyCommunityRequest{
		CommunityKey:       "golang",
		RequiredPreference: "newQuestions",
		Message:            "A new question was posted",
		RelatedQuestionID:  "q9",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var delivery notify.Delivery
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&delivery))
	assert.Equal(t, []string{"bob"}, delivery.Live)

	waitForEvent(t, conn, notify.EventPreferencesUpdated)

	resp = h.send(http.MethodGet, "/notifications", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list api.NotificationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, "q9", list.Notifications[0].RelatedQuestionID)
}

func TestHealthReportsSessions(t *testing.T) {
	h := newHarness(t)
	bob := h.createUser("bob")
	conn := h.dial(bob.Token)
	waitForEvent(t, conn, websocket.EventLoggedIn)

	resp := h.send(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, 1, health.ConnectedSessions)
	assert.Equal(t, "closed", health.Storage)
}
