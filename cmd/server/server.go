package main

import (
	"time"

	"github.com/JaimeStill/steward/internal/config"
	"github.com/JaimeStill/steward/internal/infrastructure"
)

type Server struct {
	infra   *infrastructure.Infrastructure
	modules *Modules
	http    *httpServer
}

func NewServer(cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	modules, err := NewModules(infra, cfg)
	if err != nil {
		return nil, err
	}

	router := buildRouter(infra)
	modules.Mount(router)

	infra.Logger.Info(
		"server initialized",
		"addr", cfg.Server.Addr(),
		"version", cfg.Version,
		"env", cfg.Env(),
		"store", cfg.Engine.Store,
	)

	return &Server{
		infra:   infra,
		modules: modules,
		http:    newHTTPServer(&cfg.Server, router, infra.Logger),
	}, nil
}

func (s *Server) Start() error {
	s.infra.Logger.Info("starting service")

	if err := s.infra.Start(); err != nil {
		return err
	}
	s.modules.Domain.Start()

	if err := s.http.Start(s.infra.Lifecycle); err != nil {
		return err
	}
	s.infra.Logger.Info("accepting requests", "addr", s.http.Addr())

	go func() {
		lc := s.infra.Lifecycle
		lc.WaitForStartup()
		if db := s.infra.Database; db != nil && !db.Ready() {
			s.infra.Logger.Error("database not ready, engine not bootstrapped")
			return
		}
		if err := s.modules.Domain.Bootstrap(lc.Context()); err != nil {
			s.infra.Logger.Error("engine bootstrap failed", "error", err)
			return
		}
		s.infra.Logger.Info("all subsystems ready")
	}()

	return nil
}

func (s *Server) Shutdown(timeout time.Duration) error {
	s.infra.Logger.Info("initiating shutdown")
	return s.infra.Lifecycle.Shutdown(timeout)
}
