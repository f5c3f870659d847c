package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/nsem-asso/backoffice/internal/pkg/cache"
	"github.com/nsem-asso/backoffice/internal/pkg/database"
	"github.com/nsem-asso/backoffice/internal/pkg/env"
	"github.com/nsem-asso/backoffice/internal/pkg/jobqueue"
	"github.com/nsem-asso/backoffice/internal/pkg/router"
)

func main() {
	app := NewApplication()
	defer jobqueue.GetManager().Stop()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Background workers for donor emails and index refreshes.
	jobqueue.GetManager().Start()

	app := fiber.New(fiber.Config{
		AppName: "asso-backoffice",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
