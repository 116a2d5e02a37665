package main

import (
	"flag"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "Relay WebSocket URL")
	language := flag.String("language", "en-US", "BCP-47 language tag")
	caregiver := flag.String("caregiver", "cg-demo", "Caregiver ID")
	frames := flag.Int("frames", 12, "Number of silent frames to send")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to server")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Connection closed: %v", err)
				return
			}
			log.Printf("Received: %s", data)
		}
	}()

	if err := conn.WriteJSON(map[string]string{"language": *language, "caregiver_id": *caregiver}); err != nil {
		log.Fatalf("failed to send configuration: %v", err)
	}

	// 20ms of 48kHz 16-bit mono silence
	silence := make([]byte, 1920)
	for i := 0; i < *frames; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, silence); err != nil {
			log.Fatalf("failed to send frame: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"finish"}`)); err != nil {
		log.Fatalf("failed to send finish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Println("Timed out waiting for the relay to close")
	}
}
