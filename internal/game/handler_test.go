package game

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdtechteam/quiz-generator/internal/db/repository"
	"github.com/pdtechteam/quiz-generator/internal/game/scoring"
	httperrors "github.com/pdtechteam/quiz-generator/pkg/http/errors"
	"github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

// wsRig runs the websocket handler on a real server so frames travel the
// full gorilla read/write path.
type wsRig struct {
	t       *testing.T
	store   *memStore
	session repository.GameSession
	url     string
}

func newWSRig(t *testing.T) *wsRig {
	t.Helper()
	store := newMemStore()
	quiz := store.addQuiz("Capitals of Europe", 20, "medium")
	session := store.addSession(quiz.ID)

	hub := NewHub(store, scoring.NewEngine(scoring.DefaultConfig()), testConfig(), zerolog.Nop())
	handler := NewHandler(hub, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/game/{code}/{$}", handler.HandleWebSocket)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, hub.Shutdown(ctx))
	})

	return &wsRig{
		t:       t,
		store:   store,
		session: session,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/game/",
	}
}

func (g *wsRig) dial(code string) *websocket.Conn {
	g.t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(g.url+code+"/", nil)
	require.NoError(g.t, err)
	g.t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil discards frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", eventType)
		var env ws.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == eventType {
			return data
		}
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestWebSocketUnknownCodeRejectedBeforeUpgrade(t *testing.T) {
	g := newWSRig(t)

	conn, resp, err := websocket.DefaultDialer.Dial(g.url+"0000/", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Nil(t, conn)

	var body httperrors.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, httperrors.ErrCodeNoSuchSession, body.Error)
}

func TestWebSocketGreetsWithSessionState(t *testing.T) {
	g := newWSRig(t)

	conn := g.dial(g.session.Code)
	snap := decodeEvent[ws.SessionStateEvent](t, readUntil(t, conn, ws.TypeSessionState))
	assert.Equal(t, g.session.Code, snap.Code)
	assert.Equal(t, repository.StateWaiting, snap.State)
}

func TestWebSocketFrameValidation(t *testing.T) {
	g := newWSRig(t)

	conn := g.dial(g.session.Code)
	readUntil(t, conn, ws.TypeSessionState)

	sendFrame(t, conn, "this is not json")
	ev := decodeEvent[ws.ErrorEvent](t, readUntil(t, conn, ws.TypeError))
	assert.Equal(t, httperrors.ErrCodeBadFrame, ev.Kind)

	sendFrame(t, conn, `{"type":"teleport"}`)
	ev = decodeEvent[ws.ErrorEvent](t, readUntil(t, conn, ws.TypeError))
	assert.Equal(t, httperrors.ErrCodeUnknownType, ev.Kind)
	assert.Contains(t, ev.Message, "teleport")

	sendFrame(t, conn, `{"type":"join","player_name":"   "}`)
	ev = decodeEvent[ws.ErrorEvent](t, readUntil(t, conn, ws.TypeError))
	assert.Equal(t, httperrors.ErrCodeMissingField, ev.Kind)

	sendFrame(t, conn, `{"type":"answer","question_uuid":"q-1-1"}`)
	ev = decodeEvent[ws.ErrorEvent](t, readUntil(t, conn, ws.TypeError))
	assert.Equal(t, httperrors.ErrCodeMissingField, ev.Kind)

	sendFrame(t, conn, `{"type":"reaction","emoji":""}`)
	ev = decodeEvent[ws.ErrorEvent](t, readUntil(t, conn, ws.TypeError))
	assert.Equal(t, httperrors.ErrCodeMissingField, ev.Kind)
}

func TestWebSocketJoinAndPingRoundTrip(t *testing.T) {
	g := newWSRig(t)

	conn := g.dial(g.session.Code)
	readUntil(t, conn, ws.TypeSessionState)

	sendFrame(t, conn, `{"type":"join","player_name":"Zoe"}`)
	joined := decodeEvent[ws.PlayerEvent](t, readUntil(t, conn, ws.TypeJoined))
	assert.Equal(t, "Zoe", joined.Player.Name)
	assert.True(t, joined.Player.Connected)

	sendFrame(t, conn, `{"type":"ping"}`)
	readUntil(t, conn, ws.TypePong)
}

func TestWebSocketCloseMarksPlayerDisconnected(t *testing.T) {
	g := newWSRig(t)

	conn := g.dial(g.session.Code)
	readUntil(t, conn, ws.TypeSessionState)
	sendFrame(t, conn, `{"type":"join","player_name":"Zoe"}`)
	readUntil(t, conn, ws.TypeJoined)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		p := g.store.playerByName(g.session.ID, "Zoe")
		return p.ID != 0 && !p.Connected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketTwoClientsShareBroadcasts(t *testing.T) {
	g := newWSRig(t)

	first := g.dial(g.session.Code)
	readUntil(t, first, ws.TypeSessionState)
	sendFrame(t, first, `{"type":"join","player_name":"Ann"}`)
	readUntil(t, first, ws.TypeJoined)

	second := g.dial(g.session.Code)
	readUntil(t, second, ws.TypeSessionState)
	sendFrame(t, second, `{"type":"join","player_name":"Ben"}`)
	readUntil(t, second, ws.TypeJoined)

	// Ann hears about Ben joining.
	for {
		ev := decodeEvent[ws.PlayerEvent](t, readUntil(t, first, ws.TypePlayerJoined))
		if ev.Player.Name == "Ben" {
			break
		}
	}

	sendFrame(t, second, `{"type":"reaction","emoji":"🔥"}`)
	reaction := decodeEvent[ws.PlayerReactionEvent](t, readUntil(t, first, ws.TypePlayerReaction))
	assert.Equal(t, "Ben", reaction.PlayerName)
	assert.Equal(t, "🔥", reaction.Emoji)
}
