package marketdata

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Stream pushes real-time trade prints into the quote cache over a
// websocket, cutting REST polling while the market is open. It is strictly
// an optimization: if the socket drops, the REST failover path still
// answers every quote request.
type Stream struct {
	url     string
	apiKey  string
	symbols []string
	svc     *Service

	mu     sync.Mutex
	conn   *websocket.Conn
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStream creates a streaming feed for the tracked symbols.
func NewStream(url, apiKey string, symbols []string, svc *Service) *Stream {
	return &Stream{
		url:     url,
		apiKey:  apiKey,
		symbols: symbols,
		svc:     svc,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the connect/read loop. Reconnects with a fixed backoff.
func (st *Stream) Start() {
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		for {
			select {
			case <-st.stopCh:
				return
			default:
			}
			if err := st.runOnce(); err != nil {
				log.Warn().Err(err).Msg("Quote stream disconnected, reconnecting in 5s")
			}
			select {
			case <-st.stopCh:
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

type streamEvent struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,string"`
	Size   int64   `json:"size,string"`
}

func (st *Stream) runOnce() error {
	conn, _, err := websocket.DefaultDialer.Dial(st.url, nil)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.conn = conn
	st.mu.Unlock()
	defer conn.Close()

	sub := map[string]interface{}{
		"symbols":   st.symbols,
		"sessionid": st.apiKey,
		"filter":    []string{"trade"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	log.Info().Strs("symbols", st.symbols).Msg("Quote stream connected")

	for {
		select {
		case <-st.stopCh:
			return nil
		default:
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var evt streamEvent
		if err := json.Unmarshal(msg, &evt); err != nil || evt.Type != "trade" || evt.Price == 0 {
			continue
		}
		st.svc.SetQuote(&Quote{
			Symbol:    evt.Symbol,
			Price:     decimal.NewFromFloat(evt.Price),
			Volume:    evt.Size,
			Timestamp: time.Now(),
			Provider:  "stream",
		})
	}
}

// Stop closes the socket and waits for the read loop to exit.
func (st *Stream) Stop() {
	close(st.stopCh)
	st.mu.Lock()
	if st.conn != nil {
		st.conn.Close()
	}
	st.mu.Unlock()
	st.wg.Wait()
}
