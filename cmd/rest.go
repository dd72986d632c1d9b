package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	globalConfig "github.com/chafiq1992/wagateway/config"
	infraValkey "github.com/chafiq1992/wagateway/infrastructure/valkey"
	"github.com/chafiq1992/wagateway/ui/rest"
	"github.com/chafiq1992/wagateway/ui/rest/middleware"
	uiWebsocket "github.com/chafiq1992/wagateway/ui/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the gateway REST and websocket API",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	fiberConfig := fiber.Config{
		BodyLimit:    64 * 1024 * 1024,
		Network:      "tcp",
		AppName:      "WA Gateway",
		ServerHeader: "Hidden",
	}
	if len(globalConfig.AppTrustedProxies) > 0 {
		fiberConfig.EnableTrustedProxyCheck = true
		fiberConfig.TrustedProxies = globalConfig.AppTrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedFor
	}

	app := fiber.New(fiberConfig)

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	app.Use(helmet.New())

	// Coarse per-IP admission control; valkey storage makes the limit
	// cluster-wide, the in-memory default covers single instances.
	limiterConfig := limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}
	if vkClient != nil {
		limiterConfig.Storage = infraValkey.NewFiberStorage(vkClient)
	}
	app.Use(limiter.New(limiterConfig))

	if globalConfig.AppDebug {
		app.Use(logger.New())
	}

	// Media artifacts served from local object storage.
	app.Static(globalConfig.AppBasePath+"/media", "./"+globalConfig.PathMedia)

	app.Get(globalConfig.AppBasePath+"/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group(globalConfig.AppBasePath)
	rest.InitRestWebhook(api, proc)
	rest.InitRestSend(api, proc, chatRepo, sendLimiter)
	rest.InitRestConversation(api, chatRepo, proc)
	rest.InitRestAdmin(api, chatRepo)
	rest.InitRestOrders(api, chatRepo)
	rest.InitRestHealth(api, vkClient)

	uiWebsocket.RegisterRoutes(api, uiWebsocket.Deps{
		Store:     chatRepo,
		Processor: proc,
		Registry:  sessions,
		Limiter:   sendLimiter,
		Cache:     bus,
	})

	// Cross-instance fan-out: events published by other instances are
	// delivered to local sessions only.
	if bus.Enabled() && globalConfig.EnableWSPubSub {
		go bus.Subscribe(appCtx, sessions.DeliverFromBus)
	}

	if err := engine.StartSurveyScheduler(appCtx); err != nil {
		logrus.WithError(err).Error("[APP] survey scheduler failed to start")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
		StopApp()
	}()

	if err := app.Listen(":" + globalConfig.AppPort); err != nil {
		logrus.Fatalln("Failed to start: ", err.Error())
	}
}
