package game

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiz_sessions_active",
		Help: "Session runtimes currently held by the hub.",
	})
	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiz_clients_connected",
		Help: "WebSocket clients currently attached to a session.",
	})
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_ws_messages_total",
		Help: "Inbound WebSocket frames by message type.",
	}, []string{"type"})
	answersRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiz_answers_recorded_total",
		Help: "Answers accepted and persisted.",
	})
	sendOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiz_send_queue_overflows_total",
		Help: "Clients dropped because their send queue overflowed.",
	})
)

// knownMessageTypes bounds the label set of messagesTotal; anything a client
// invents lands on the shared "unknown" label.
var knownMessageTypes = map[string]struct{}{
	ws.TypeJoin:         {},
	ws.TypeBecomeHost:   {},
	ws.TypeStartGame:    {},
	ws.TypePauseGame:    {},
	ws.TypeResumeGame:   {},
	ws.TypeSkipQuestion: {},
	ws.TypeEndGame:      {},
	ws.TypeNextQuestion: {},
	ws.TypeAnswer:       {},
	ws.TypePing:         {},
	ws.TypeReaction:     {},
}

func observeMessage(msgType string) {
	if _, ok := knownMessageTypes[msgType]; !ok {
		msgType = "unknown"
	}
	messagesTotal.WithLabelValues(msgType).Inc()
}
