package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Server: HTTP-сервер с таймаутами и мягкой остановкой.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * writeTimeout,
	}}
}

// Start слушает адрес до остановки. Возвращает nil после Shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.srv.Addr).Info("HTTP-сервер запущен")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown дожидается текущих запросов, но не дольше ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Останавливаем HTTP-сервер...")
	return s.srv.Shutdown(ctx)
}
