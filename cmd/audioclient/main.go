package main

import (
	"encoding/binary"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in 100ms chunks to simulate a live microphone
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-48khz.wav", "Path to WAV file (16-bit PCM)")
	serverURL := flag.String("server", "ws://localhost:8080/ws", "Relay WebSocket URL")
	language := flag.String("language", "en-US", "BCP-47 language tag")
	caregiver := flag.String("caregiver", "", "Caregiver ID; when set the transcript is stored and classified")
	flag.Parse()

	// Open audio file
	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	// Read and validate WAV header
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 || bitsPerSample != 16 {
		log.Fatal("Only 16-bit PCM supported")
	}
	if sampleRate != 48000 || numChannels != 1 {
		log.Printf("Warning: relay expects 48000 Hz mono, file is %d Hz with %d channels", sampleRate, numChannels)
	}
	chunkSize := int(sampleRate) * int(numChannels) * 2 * chunkIntervalMs / 1000

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	cfg := map[string]string{"language": *language}
	if *caregiver != "" {
		cfg["caregiver_id"] = *caregiver
	}
	if err := conn.WriteJSON(cfg); err != nil {
		log.Fatalf("Failed to send configuration: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Relay closed: %v", err)
				return
			}
			log.Printf("<- %s", data)
		}
	}()

	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		if err := conn.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		select {
		case <-done:
			log.Fatal("Relay closed the connection while streaming")
		case <-time.After(chunkIntervalMs * time.Millisecond):
		}
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))
	log.Println("Sending finish, waiting for final transcripts...")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"finish"}`)); err != nil {
		log.Fatalf("Failed to send finish: %v", err)
	}

	select {
	case <-done:
		log.Println("Stream completed")
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for the relay to close")
	}
}
