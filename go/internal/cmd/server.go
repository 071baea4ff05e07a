package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/gateway"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/rpc"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	qrSize         = 320
	beaconTimeout  = 5 * time.Second
	maxBeaconBytes = 1 << 10
)

func setupServer(config *Config, services *Services) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Server.Port),
		Handler:           newHandler(config, services),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newHandler(config *Config, services *Services) http.Handler {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	registerServices(mux, services)
	registerRoutes(mux, config, services)
	setupHealthCheck(mux, services.Backend)
	if services.Gateway != nil {
		gateway.NewWebSocketHandler(services.Gateway).RegisterRoutes(mux)
	}

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

func registerServices(mux *http.ServeMux, services *Services) {
	path, handler := rpc.NewHandler(rpc.NewService(services.Backend))
	mux.Handle(path, handler)
}

// registerRoutes mounts the parameterised browser routes.
func registerRoutes(mux *http.ServeMux, config *Config, services *Services) {
	router := httprouter.New()
	router.POST("/beacon/leave/:code", beaconLeaveHandler(services.Backend))
	router.GET("/rooms/:code/qr.png", roomQRHandler(config.Server.PublicURL, services.Backend))
	mux.Handle("/beacon/", router)
	mux.Handle("/rooms/", router)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func setupHealthCheck(mux *http.ServeMux, b backend.Backend) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if p, ok := b.(pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				log.Error().Err(err).Msg("health check failed")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

// beaconLeaveHandler serves navigator.sendBeacon on page unload. The
// username comes from the query string or a JSON body. The browser never
// reads the answer, so it is always 204.
func beaconLeaveHandler(b backend.Procedures) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		defer w.WriteHeader(http.StatusNoContent)

		code := models.NormalizeRoomCode(ps.ByName("code"))
		username := strings.TrimSpace(r.URL.Query().Get("username"))
		if username == "" {
			var body struct {
				Username string `json:"username"`
			}
			if err := json.NewDecoder(io.LimitReader(r.Body, maxBeaconBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("room_code", code).Msg("unreadable leave beacon")
			}
			username = strings.TrimSpace(body.Username)
		}
		if username == "" || !models.ValidRoomCode(code) {
			return
		}

		// the page is gone; finish the leave even if the request is cut
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), beaconTimeout)
		defer cancel()
		res, err := b.LeaveRoom(ctx, code, username)
		switch {
		case err != nil && apperr.KindOf(err) != apperr.KindNotFound:
			log.Error().Err(err).Str("room_code", code).Str("username", username).Msg("leave beacon failed")
		case err == nil && res.Success:
			log.Info().
				Str("room_code", code).
				Str("username", username).
				Bool("room_deleted", res.RoomDeleted).
				Msg("player left by beacon")
		}
	}
}

// roomQRHandler renders a PNG QR code of the room's join URL.
func roomQRHandler(publicURL string, b backend.Reads) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := models.NormalizeRoomCode(ps.ByName("code"))
		if !models.ValidRoomCode(code) {
			http.Error(w, "invalid room code", http.StatusBadRequest)
			return
		}
		if _, err := b.GetRoomByCode(r.Context(), code); err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				http.Error(w, "room not found", http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("room_code", code).Msg("failed to look up room")
			http.Error(w, "room lookup failed", http.StatusServiceUnavailable)
			return
		}

		png, err := qrcode.Encode(joinURL(publicURL, code), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(png)
	}
}

func joinURL(publicURL, code string) string {
	return strings.TrimRight(publicURL, "/") + "/room/" + code
}
