package app

import (
	"github.com/kestrelmedia/studioforge/internal/handlers"
	"github.com/kestrelmedia/studioforge/internal/pkg/logger"
)

type Handlers struct {
	Auth *handlers.AuthHandler
	User *handlers.UserHandler
}

func wireHandlers(log *logger.Logger, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth: handlers.NewAuthHandler(services.Auth),
		User: handlers.NewUserHandler(services.User),
	}
}
