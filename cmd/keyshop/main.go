package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/keyshop-app/keyshop/app/controllers"
	"github.com/keyshop-app/keyshop/app/repository"
	"github.com/keyshop-app/keyshop/internal/pkg/cache"
	"github.com/keyshop-app/keyshop/internal/pkg/database"
	"github.com/keyshop-app/keyshop/internal/pkg/env"
	"github.com/keyshop-app/keyshop/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "keyshop",
		BodyLimit: 1 << 20, // webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	// background workers: fulfillment queue, reconcile and expiry sweeps
	controllers.InitServices()

	return app
}
