package game

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pdtechteam/quiz-generator/internal/db/repository"
	httperrors "github.com/pdtechteam/quiz-generator/pkg/http/errors"
	"github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

// wsUpgrader accepts any origin: the game is reachable from whatever static
// host serves the frontend.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the live game channel.
type Handler struct {
	hub    *Hub
	logger zerolog.Logger
}

func NewHandler(hub *Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger.With().Str("component", "game_ws").Logger(),
	}
}

// HandleWebSocket serves GET /ws/game/{code}/. Unknown codes are rejected
// before the upgrade so clients see a plain 404 instead of a bare close.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	rt, err := h.hub.Resolve(r.Context(), code)
	if errors.Is(err, repository.ErrSessionNotFound) {
		httperrors.RespondNotFound(w, httperrors.ErrCodeNoSuchSession, "Unknown session code")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", code).Msg("resolve session failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not resolve session")
		return
	}

	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_code", code).Msg("websocket upgrade failed")
		return
	}

	conn := ws.NewConnection(raw, h.logger.With().Str("session_code", code).Logger())
	go conn.WritePump()

	c := NewClient(conn)
	rt.Attach(c)
	rt.Connected(c)

	conn.ReadPump(func(data []byte) error {
		h.dispatch(rt, c, data)
		return nil
	})

	conn.Close()
	rt.Detach(c)
	rt.Disconnect(c)
}

// dispatch decodes one inbound frame and queues the matching runtime
// command. Malformed frames answer the sender directly and touch no session
// state, so they cannot be used to probe or stall a game.
func (h *Handler) dispatch(rt *Runtime, c *Client, data []byte) {
	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.reject(httperrors.ErrCodeBadFrame, "Frame is not a JSON object with a type")
		return
	}
	observeMessage(env.Type)

	switch env.Type {
	case ws.TypeJoin:
		var frame ws.JoinFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reject(httperrors.ErrCodeBadFrame, "Malformed join frame")
			return
		}
		name := strings.TrimSpace(frame.PlayerName)
		if name == "" {
			c.reject(httperrors.ErrCodeMissingField, "player_name is required")
			return
		}
		rt.enqueue(command{kind: cmdJoin, client: c, name: name})

	case ws.TypeBecomeHost:
		rt.enqueue(command{kind: cmdBecomeHost, client: c})

	case ws.TypeStartGame:
		rt.enqueue(command{kind: cmdStartGame, client: c})

	case ws.TypePauseGame:
		rt.enqueue(command{kind: cmdPauseGame, client: c})

	case ws.TypeResumeGame:
		rt.enqueue(command{kind: cmdResumeGame, client: c})

	case ws.TypeSkipQuestion:
		rt.enqueue(command{kind: cmdSkipQuestion, client: c})

	case ws.TypeNextQuestion:
		rt.enqueue(command{kind: cmdNextQuestion, client: c})

	case ws.TypeEndGame:
		rt.enqueue(command{kind: cmdEndGame, client: c})

	case ws.TypeAnswer:
		var frame ws.AnswerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reject(httperrors.ErrCodeBadFrame, "Malformed answer frame")
			return
		}
		if frame.QuestionUUID == "" || frame.ChoiceID == 0 || frame.TimeTaken == nil {
			c.reject(httperrors.ErrCodeMissingField, "question_uuid, choice_id and time_taken are required")
			return
		}
		rt.enqueue(command{kind: cmdAnswer, client: c, answer: frame})

	case ws.TypePing:
		rt.enqueue(command{kind: cmdPing, client: c})

	case ws.TypeReaction:
		var frame ws.ReactionFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reject(httperrors.ErrCodeBadFrame, "Malformed reaction frame")
			return
		}
		if strings.TrimSpace(frame.Emoji) == "" {
			c.reject(httperrors.ErrCodeMissingField, "emoji is required")
			return
		}
		rt.enqueue(command{kind: cmdReaction, client: c, emoji: frame.Emoji})

	default:
		c.reject(httperrors.ErrCodeUnknownType, "Unknown message type: "+env.Type)
	}
}
