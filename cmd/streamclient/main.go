package main

import (
	"encoding/base64"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/internal/auth"
	ws "github.com/satriahrh/speechgate/internal/websocket"
)

type options struct {
	serverURL string
	file      string
	api       string
	version   string
	apiKey    string
	language  string
	chunkSize int
	interval  time.Duration
	jwtSecret string
	clientID  string
}

func main() {
	var opts options
	flag.StringVar(&opts.serverURL, "url", "ws://localhost:8080/ws", "gateway websocket url")
	flag.StringVarP(&opts.file, "file", "f", "", "audio file to stream")
	flag.StringVar(&opts.api, "api", "google", "streaming provider: google or groq")
	flag.StringVar(&opts.version, "version", "v1", "google api version: v1 or v2")
	flag.StringVarP(&opts.apiKey, "api-key", "k", "", "provider api key")
	flag.StringVarP(&opts.language, "language", "l", "en-US", "language code")
	flag.IntVar(&opts.chunkSize, "chunk-size", 16*1024, "bytes per audio chunk")
	flag.DurationVar(&opts.interval, "interval", 250*time.Millisecond, "pause between chunks")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "sign a client token with this secret")
	flag.StringVar(&opts.clientID, "client-id", "streamclient", "client id placed in the token")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if opts.file == "" {
		logger.Fatal("An audio file is required, pass --file")
	}
	audio, err := os.ReadFile(opts.file)
	if err != nil {
		logger.Fatal("Failed to read audio file", zap.String("file", opts.file), zap.Error(err))
	}
	if opts.chunkSize <= 0 {
		opts.chunkSize = len(audio)
	}

	wsURL, err := url.Parse(opts.serverURL)
	if err != nil {
		logger.Fatal("Invalid server url", zap.Error(err))
	}
	if opts.jwtSecret != "" {
		token, err := auth.GenerateClientToken([]byte(opts.jwtSecret), opts.clientID, time.Hour)
		if err != nil {
			logger.Fatal("Failed to sign client token", zap.Error(err))
		}
		q := wsURL.Query()
		q.Set("token", token)
		wsURL.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			logger.Fatal("WebSocket connection failed", zap.Int("status", resp.StatusCode), zap.Error(err))
		}
		logger.Fatal("WebSocket connection failed", zap.Error(err))
	}
	defer conn.Close()
	logger.Info("Connected", zap.String("url", opts.serverURL))

	done := make(chan struct{})
	go readEvents(conn, logger, done)

	sessionID := uuid.NewString()
	if err := stream(conn, opts, sessionID, audio); err != nil {
		logger.Fatal("Streaming failed", zap.String("sessionID", sessionID), zap.Error(err))
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case <-done:
	case <-interrupt:
		logger.Info("Interrupted")
	case <-time.After(time.Minute):
		logger.Warn("Timed out waiting for the session to end")
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// stream sends the first chunk with start_stream, the rest as audio_chunk, then end_stream
func stream(conn *websocket.Conn, opts options, sessionID string, audio []byte) error {
	first := min(opts.chunkSize, len(audio))
	start := ws.ClientMessage{
		Type:         ws.MessageTypeStartStream,
		SessionID:    sessionID,
		API:          opts.api,
		Version:      opts.version,
		APIKey:       opts.apiKey,
		LanguageCode: opts.language,
		Language:     opts.language,
		FileName:     opts.file,
		Content:      base64.StdEncoding.EncodeToString(audio[:first]),
	}
	if err := conn.WriteJSON(start); err != nil {
		return err
	}

	for offset := first; offset < len(audio); offset += opts.chunkSize {
		time.Sleep(opts.interval)
		end := min(offset+opts.chunkSize, len(audio))
		chunk := ws.ClientMessage{
			Type:      ws.MessageTypeAudioChunk,
			SessionID: sessionID,
			Content:   base64.StdEncoding.EncodeToString(audio[offset:end]),
		}
		if err := conn.WriteJSON(chunk); err != nil {
			return err
		}
	}

	return conn.WriteJSON(ws.ClientMessage{Type: ws.MessageTypeEndStream, SessionID: sessionID})
}

func readEvents(conn *websocket.Conn, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		var event map[string]any
		if err := conn.ReadJSON(&event); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("Connection closed", zap.Error(err))
			}
			return
		}

		switch ws.MessageType(stringField(event, "type")) {
		case ws.MessageTypeTranscription:
			logger.Info("Transcription",
				zap.Any("sequence", event["sequence"]),
				zap.Any("isFinal", event["isFinal"]),
				zap.String("transcript", stringField(event, "transcript")),
				zap.String("fullTranscript", stringField(event, "fullTranscript")))
		case ws.MessageTypeEnd:
			logger.Info("Session ended", zap.String("sessionID", stringField(event, "sessionId")))
			return
		case ws.MessageTypeError:
			logger.Error("Gateway error", zap.String("message", stringField(event, "message")))
			return
		default:
			logger.Debug("Event", zap.Any("event", event))
		}
	}
}

func stringField(event map[string]any, key string) string {
	s, _ := event[key].(string)
	return s
}
