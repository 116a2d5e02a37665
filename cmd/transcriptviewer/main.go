// Transcript viewer: consumes relay transcript topics from Kafka and
// streams them to browsers over WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

const indexPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Care transcripts</title>
<style>body{font-family:sans-serif;margin:2em}.partial{color:#888}.observation{color:#0a5}.activity{color:#05a}</style>
</head><body><h1>Care transcripts</h1><div id="log"></div>
<script>
const log = document.getElementById("log");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data), p = ev.payload, row = document.createElement("div");
  if (p.sentences) {
    row.innerHTML = p.sentences.map(s => '<span class="' + s.category + '">[' + s.category + '] ' + s.text + '</span>').join("<br>");
  } else {
    row.className = p.final ? "final" : "partial";
    row.textContent = p.text;
  }
  log.prepend(row);
};
</script></body></html>`

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.register <- conn

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

func newReader(ctx context.Context, brokers, topic string) messageReader {
	// Partition reader without a consumer group works better through port-forward
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Printf("Could not rewind %s: %v", topic, err)
	}
	return reader
}

// consume forwards every message on reader to the hub until ctx is done.
func consume(ctx context.Context, hub *Hub, reader messageReader, topic string) {
	defer reader.Close()
	log.Printf("Consuming from Kafka topic: %s", topic)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !json.Valid(msg.Value) {
			log.Printf("Skipping non-JSON message on %s", topic)
			continue
		}
		log.Printf("Received on %s: %s", topic, truncate(string(msg.Value), 60))
		select {
		case hub.broadcast <- viewerEvent{Topic: topic, Key: string(msg.Key), Payload: msg.Value}:
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "care.transcript.partial", "Partial transcript topic")
	topicFinal := flag.String("topic-final", "care.transcript.final", "Final transcript topic")
	topicClassified := flag.String("topic-classified", "care.transcript.classified", "Classified sentences topic")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := newHub()
	go hub.run()
	defer hub.stop()

	for _, topic := range []string{*topicPartial, *topicFinal, *topicClassified} {
		go consume(ctx, hub, newReader(ctx, *brokers, topic), topic)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(indexPage))
	})
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Transcript viewer starting on http://localhost:%s", *port)
	log.Printf("Kafka brokers: %s", *brokers)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
