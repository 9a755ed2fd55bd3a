/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatusServer exposes Status over HTTP while the daemon runs.
type StatusServer struct {
	addr   string
	log    *slog.Logger
	engine *gin.Engine
}

func NewStatusServer(c *Controller, addr string, log *slog.Logger) *StatusServer {
	log = log.With(slog.String("component", "http"))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginLoggerMiddleware(log), ginRecoveryMiddleware(log))

	r.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Status())
	})
	r.GET("/healthz", func(ctx *gin.Context) {
		running, err := c.Flag().Exists()
		if err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"running": false, "error": err.Error()})
			return
		}
		if !running {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"running": false})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"running": true})
	})

	return &StatusServer{addr: addr, log: log, engine: r}
}

// Handler returns the routes, mainly for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *StatusServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind status server to %s: %w", s.addr, err)
	}
	s.log.Info("Status server started", slog.String("addr", listener.Addr().String()))

	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Status server shutdown failed", slog.String("error", err.Error()))
		return nil
	}
	s.log.Info("Status server stopped cleanly.")
	return nil
}

// ginLoggerMiddleware replaces Gin's default logger with the daemon's slog logger
func ginLoggerMiddleware(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		log.Debug("HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("clientIP", c.ClientIP()),
			slog.Int("status", c.Writer.Status()),
			slog.String("latency", time.Since(start).String()),
		)
	}
}

// ginRecoveryMiddleware captures panics and logs them
func ginRecoveryMiddleware(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("Panic recovered in status server",
					slog.String("error", fmt.Sprintf("%v", err)),
					slog.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
