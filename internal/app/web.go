package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/speedcal/internal/config"
)

// WebServer mirrors the track's status and result topics over HTTP and a
// websocket, and turns browser actions into command messages.
type WebServer struct {
	topics  Topics
	publish func(topic, payload string) error
	hub     *Hub

	mu         sync.RWMutex
	lastStatus json.RawMessage
	lastResult json.RawMessage
}

// NewWebServer builds the server. publish sends a command message to the
// broker.
func NewWebServer(topics Topics, publish func(topic, payload string) error) *WebServer {
	s := &WebServer{topics: topics, publish: publish}
	s.hub = NewHub(nil, 32, s.handleAction, s.greeting)
	return s
}

// Hub returns the websocket hub; Run must be started for clients to receive
// frames.
func (s *WebServer) Hub() *Hub { return s.hub }

// HandleMessage records a status or result payload and forwards it to
// websocket clients. Anything that is not a JSON object is ignored, which
// includes status requests echoed on the status topic.
func (s *WebServer) HandleMessage(topic string, payload []byte) {
	if !json.Valid(payload) || !strings.HasPrefix(strings.TrimSpace(string(payload)), "{") {
		return
	}
	raw := json.RawMessage(append([]byte(nil), payload...))

	s.mu.Lock()
	switch topic {
	case s.topics.Status:
		s.lastStatus = raw
	case s.topics.Result:
		s.lastResult = raw
	case s.topics.Error:
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.hub.BroadcastBytes(raw)
}

func (s *WebServer) greeting() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var frames [][]byte
	if s.lastStatus != nil {
		frames = append(frames, s.lastStatus)
	}
	if s.lastResult != nil {
		frames = append(frames, s.lastResult)
	}
	return frames
}

type webAction struct {
	Action string `json:"action"`
}

// handleAction accepts {"action":"arm"|"disarm"|"status"} from a websocket
// client.
func (s *WebServer) handleAction(msg []byte) {
	var a webAction
	if err := json.Unmarshal(msg, &a); err != nil {
		log.Printf("web: bad websocket message: %v", err)
		return
	}
	if err := s.Action(a.Action); err != nil {
		log.Printf("web: %v", err)
	}
}

// Action publishes the command message for a named action.
func (s *WebServer) Action(name string) error {
	switch name {
	case "arm":
		return s.publish(s.topics.Arm, "")
	case "disarm", "stop":
		return s.publish(s.topics.Stop, "")
	case "status":
		return s.publish(s.topics.Status, "?")
	default:
		return fmt.Errorf("unknown action %q", name)
	}
}

// Handler returns the HTTP routes. staticDir is served at "/" when not
// empty.
func (s *WebServer) Handler(staticDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		writeRaw(w, s.lastStatus)
	})
	mux.HandleFunc("/api/result", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		writeRaw(w, s.lastResult)
	})
	mux.HandleFunc("/api/arm", s.actionHandler("arm"))
	mux.HandleFunc("/api/stop", s.actionHandler("stop"))
	mux.Handle("/ws", s.hub)

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

func (s *WebServer) actionHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.Action(name); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	if raw == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(raw); err != nil {
		log.Printf("web: write error: %v", err)
	}
}

// RunWeb subscribes to the track topics and serves the web UI until ctx is
// cancelled.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()
	topics := TopicsFromConfig(cfg)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	srv := NewWebServer(topics, func(topic, payload string) error {
		token := client.Publish(topic, 1, false, payload)
		if !token.WaitTimeout(2 * time.Second) {
			return fmt.Errorf("publish to %s timed out", topic)
		}
		return token.Error()
	})

	for _, topic := range []string{topics.Status, topics.Result, topics.Error} {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			srv.HandleMessage(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("web: subscribed to MQTT topic %s", topic)
	}

	go srv.Hub().Run(ctx)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: srv.Handler("web"),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("web: server listening on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
