package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"go-friendchat/internal/logging"
	"go-friendchat/internal/user"
)

var (
	baseURL   = flag.String("base", "http://localhost:8080", "server base URL")
	pairs     = flag.Int("pairs", 50, "number of user pairs")
	msgCount  = flag.Int("messages", 20, "messages per user")
	issuer    = flag.String("issuer", "go-friendchat", "token issuer")
	ackWait   = flag.Duration("ack-wait", 10*time.Second, "how long to wait for outstanding acks")
	jwtSecret = os.Getenv("FRIENDCHAT_AUTH__JWT_SECRET")
)

type stats struct {
	sent      atomic.Int64
	acked     atomic.Int64
	delivered atomic.Int64
	errors    atomic.Int64
}

func main() {
	flag.Parse()
	log := logging.With("loadtest")
	if jwtSecret == "" {
		log.Fatal().Msg("FRIENDCHAT_AUTH__JWT_SECRET is not set")
	}

	log.Info().Int("users", *pairs*2).Int("messages", *msgCount).Msg("starting stress test")
	start := time.Now()

	// Pairs: user 0a talks to user 0b, 1a to 1b...
	var st stats
	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID, &st)
		}(i)
	}
	wg.Wait()

	log.Info().
		Int64("sent", st.sent.Load()).
		Int64("acked", st.acked.Load()).
		Int64("received", st.delivered.Load()).
		Int64("errors", st.errors.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

func runPair(pairID int, st *stats) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)

	tokenA, errA := user.NewToken(jwtSecret, *issuer, userA, userA, time.Hour)
	tokenB, errB := user.NewToken(jwtSecret, *issuer, userB, userB, time.Hour)
	if errA != nil || errB != nil {
		logging.Error().Int("pair", pairID).Msg("mint tokens")
		return
	}

	if !createConversation(tokenA, userB) {
		st.errors.Add(1)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go spamChat(&wg, st, tokenA, userA, userB)
	go spamChat(&wg, st, tokenB, userB, userA)
	wg.Wait()
}

func createConversation(token, targetID string) bool {
	body, _ := json.Marshal(map[string]string{"targetId": targetID})
	req, _ := http.NewRequest(http.MethodPost, *baseURL+"/api/conversations", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logging.Error().Err(err).Msg("create conversation")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logging.Error().Int("status", resp.StatusCode).Msg("create conversation")
		return false
	}
	return true
}

func wsURL(userID, token string) string {
	u, _ := url.Parse(*baseURL)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"userId": {userID}, "token": {token}}.Encode()
	return u.String()
}

func spamChat(wg *sync.WaitGroup, st *stats, token, self, peer string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(self, token), nil)
	if err != nil {
		st.errors.Add(1)
		logging.Error().Err(err).Str("user", self).Msg("websocket connect")
		return
	}
	defer conn.Close()

	var acks atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame struct {
				Type string `json:"type"`
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if json.Unmarshal(data, &frame) != nil {
				continue
			}
			switch frame.Type {
			case "message_sent":
				acks.Add(1)
				st.acked.Add(1)
			case "new_message":
				st.delivered.Add(1)
			case "message_error":
				st.errors.Add(1)
			}
		}
	}()

	for i := 0; i < *msgCount; i++ {
		err := conn.WriteJSON(map[string]string{
			"action":      "message",
			"type":        "CHAT_MESSAGE",
			"senderId":    self,
			"receiverId":  peer,
			"messageText": fmt.Sprintf("LoadTest Msg %d from %s", i, self),
		})
		if err != nil {
			st.errors.Add(1)
			logging.Error().Err(err).Str("user", self).Msg("send")
			break
		}
		st.sent.Add(1)
		// Simulate real network pacing.
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(*ackWait)
	for acks.Load() < int64(*msgCount) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
