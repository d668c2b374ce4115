//go:build integration
// +build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	wsmsg "github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func baseURL() string {
	return envOrDefault("INTEGRATION_BASE_URL", "http://localhost:8080")
}

func wsBaseURL() string {
	return envOrDefault("INTEGRATION_WS_URL", "ws://localhost:8080")
}

// postJSON posts a payload and decodes the response into out when out is
// non-nil, returning the status code for assertions.
func postJSON(t *testing.T, url string, payload, out any) int {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload for %s: %v", url, err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response of POST %s (status %d): %v", url, resp.StatusCode, err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response of GET %s (status %d): %v", url, resp.StatusCode, err)
		}
	}
	return resp.StatusCode
}

// quizDetail is the slice of the quiz payload the tests assert on.
type quizDetail struct {
	ID              int64                  `json:"id"`
	Title           string                 `json:"title"`
	Topic           string                 `json:"topic"`
	QuestionCount   int                    `json:"question_count"`
	TimePerQuestion int                    `json:"time_per_question"`
	Questions       []wsmsg.QuestionDetail `json:"questions"`
}

// generateQuiz creates a quiz through the generation endpoint. The topic is
// salted with the current time so runs never share a cache entry.
func generateQuiz(t *testing.T, topic string, count int) quizDetail {
	t.Helper()

	var quiz quizDetail
	status := postJSON(t, baseURL()+"/api/quizzes/generate/", map[string]any{
		"topic": fmt.Sprintf("%s %d", topic, time.Now().UnixNano()),
		"count": count,
	}, &quiz)
	if status != http.StatusCreated {
		t.Fatalf("generate quiz returned status %d", status)
	}
	if len(quiz.Questions) != count {
		t.Fatalf("generated quiz has %d questions, want %d", len(quiz.Questions), count)
	}
	return quiz
}

func createSession(t *testing.T, quizID int64) wsmsg.SessionSnapshot {
	t.Helper()

	var snap wsmsg.SessionSnapshot
	status := postJSON(t, baseURL()+"/api/sessions/", map[string]any{"quiz": quizID}, &snap)
	if status != http.StatusCreated {
		t.Fatalf("create session returned status %d", status)
	}
	if snap.Code == "" {
		t.Fatal("created session has no code")
	}
	return snap
}

func joinPlayer(t *testing.T, code, name string) wsmsg.PlayerView {
	t.Helper()

	var player wsmsg.PlayerView
	status := postJSON(t, baseURL()+"/api/players/", map[string]string{
		"session_code": code,
		"name":         name,
	}, &player)
	if status != http.StatusCreated && status != http.StatusOK {
		t.Fatalf("join player returned status %d", status)
	}
	if player.ID == 0 {
		t.Fatal("joined player has no id")
	}
	return player
}

func dialGameWS(t *testing.T, code string) *websocket.Conn {
	t.Helper()

	url := fmt.Sprintf("%s/ws/game/%s/", wsBaseURL(), code)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial %s failed: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()

	conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("send frame failed: %v", err)
	}
}

// waitForFrame reads until a frame of the wanted type arrives and returns
// its raw bytes. Frames of other types are consumed and dropped.
func waitForFrame(t *testing.T, conn *websocket.Conn, wantType string, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read frame while waiting for %q: %v", wantType, err)
		}
		var env wsmsg.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode frame envelope: %v", err)
		}
		if env.Type == wsmsg.TypeError {
			var errEvent wsmsg.ErrorEvent
			_ = json.Unmarshal(data, &errEvent)
			t.Fatalf("error frame while waiting for %q: %s: %s", wantType, errEvent.Kind, errEvent.Message)
		}
		if env.Type == wantType {
			return data
		}
	}
	t.Fatalf("timeout waiting for %q frame", wantType)
	return nil
}

func decodeFrame[T any](t *testing.T, data []byte) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return out
}
