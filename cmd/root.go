package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	globalConfig "github.com/chafiq1992/wagateway/config"
	"github.com/chafiq1992/wagateway/core/database"
	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/infrastructure/cachebus"
	infraChatstorage "github.com/chafiq1992/wagateway/infrastructure/chatstorage"
	"github.com/chafiq1992/wagateway/infrastructure/storage"
	"github.com/chafiq1992/wagateway/infrastructure/valkey"
	"github.com/chafiq1992/wagateway/infrastructure/whatsapp"
	"github.com/chafiq1992/wagateway/integrations/shop"
	"github.com/chafiq1992/wagateway/pkg/utils"
	"github.com/chafiq1992/wagateway/processor"
	"github.com/chafiq1992/wagateway/registry"
	"github.com/chafiq1992/wagateway/workflow"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	chatRepo    domain.IChatStorageRepository
	vkClient    *valkey.Client
	bus         *cachebus.CacheBus
	sessions    *registry.Registry
	sendLimiter *registry.SendLimiter
	waClient    *whatsapp.Client
	mediaStore  *storage.LocalStorage
	shopClient  shop.IShopClient
	proc        *processor.Processor
	engine      *workflow.Engine
	serverID    string

	appCtx    context.Context
	appCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "wagateway",
	Short: "Real-time WhatsApp Cloud API messaging gateway",
	Long: `Gateway between the WhatsApp Cloud API and agent dashboards:
webhook intake, optimistic sends with id reconciliation, per-user
duplex sessions, cross-instance fan-out and automated workflows.`,
}

func init() {
	_ = godotenv.Load()

	time.Local = time.UTC
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()
	cobra.OnInitialize(initEnvConfig, initApp)
}

func initFlags() {
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AppPort,
		"port", "p",
		globalConfig.AppPort,
		"change port number with --port <number> | example: --port=8080",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&globalConfig.AppDebug,
		"debug", "d",
		globalConfig.AppDebug,
		"hide or displaying log with --debug <true/false> | example: --debug=true",
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AppBasePath,
		"base-path", "",
		globalConfig.AppBasePath,
		`base path for subpath deployment --base-path <string> | example: --base-path="/gateway"`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.DBDriver,
		"db-driver", "",
		globalConfig.DBDriver,
		`relational backend --db-driver <sqlite|postgres>`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.DBName,
		"db-name", "",
		globalConfig.DBName,
		`sqlite file path or postgres database name --db-name <string>`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.ValkeyAddress,
		"valkey-address", "",
		globalConfig.ValkeyAddress,
		`valkey address for cache and cross-instance bus --valkey-address <host:port>; empty disables the tier`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.PublicBaseURL,
		"public-base-url", "",
		globalConfig.PublicBaseURL,
		`externally reachable base url used for media links --public-base-url <url>`,
	)
}

// initEnvConfig layers viper bindings over the env defaults loaded by
// the config package; flags override both.
func initEnvConfig() {
	viper.AutomaticEnv()

	if v := viper.GetString("app_port"); v != "" {
		globalConfig.AppPort = v
	}
	if viper.GetBool("app_debug") {
		globalConfig.AppDebug = true
	}
	if v := viper.GetString("app_base_path"); v != "" {
		globalConfig.AppBasePath = v
	}
	if v := viper.GetString("app_trusted_proxies"); v != "" {
		globalConfig.AppTrustedProxies = strings.Split(v, ",")
	}
	if v := viper.GetString("public_base_url"); v != "" {
		globalConfig.PublicBaseURL = strings.TrimRight(v, "/")
	}
}

func initApp() {
	if globalConfig.AppDebug || globalConfig.LogVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := utils.CreateFolder(globalConfig.PathStorages, globalConfig.PathMedia, globalConfig.PathSendItems); err != nil {
		logrus.Errorln(err)
	}

	appCtx, appCancel = context.WithCancel(context.Background())

	db, err := database.NewDatabase()
	if err != nil {
		logrus.Fatalf("failed to open database: %v", err)
	}
	repo := infraChatstorage.NewGormRepository(db)
	if err := repo.Init(appCtx); err != nil {
		logrus.Fatalf("failed to init chat storage: %v", err)
	}
	chatRepo = repo

	serverID = utils.GetPersistentServerID("", globalConfig.PathStorages)

	if globalConfig.ValkeyAddress != "" {
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:   globalConfig.ValkeyAddress,
			Password:  globalConfig.ValkeyPassword,
			DB:        globalConfig.ValkeyDB,
			KeyPrefix: globalConfig.ValkeyPrefix,
		})
		if err != nil {
			logrus.WithError(err).Warn("[APP] valkey unavailable, running without cache tier")
			vkClient = nil
		}
	}
	if vkClient != nil {
		bus = cachebus.New(vkClient, serverID)
	}

	sessions = registry.New(bus)
	sendLimiter = registry.NewSendLimiter(globalConfig.SendTextPerMin, globalConfig.SendMediaPerMin, globalConfig.BurstWindowSec)

	waClient = whatsapp.NewClient(whatsapp.Config{
		BaseURL:        globalConfig.WhatsappAPIBase,
		APIVersion:     globalConfig.WhatsappAPIVersion,
		AccessToken:    globalConfig.WhatsappAccessToken,
		PhoneNumberID:  globalConfig.WhatsappPhoneNumberID,
		CatalogID:      globalConfig.WhatsappCatalogID,
		MaxConcurrency: globalConfig.WAMaxConcurrency,
	})

	mediaStore, err = storage.NewLocalStorage(globalConfig.PathMedia, globalConfig.PublicBaseURL)
	if err != nil {
		logrus.Fatalf("failed to init media storage: %v", err)
	}

	if globalConfig.ShopAPIBase != "" {
		shopClient = shop.NewHTTPClient(globalConfig.ShopAPIBase, globalConfig.ShopAPIToken)
	}

	proc = processor.New(chatRepo, waClient, sessions, bus, mediaStore, shopClient)

	var state workflow.StateStore
	if bus.Enabled() {
		state = bus
	} else {
		state = workflow.NewMemoryState()
	}
	engine = workflow.New(chatRepo, proc, state, shopClient)
	proc.SetWorkflow(engine)

	logrus.WithFields(logrus.Fields{
		"server_id": serverID,
		"db_driver": globalConfig.DBDriver,
		"cache":     bus.Enabled(),
	}).Info("[APP] initialized")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp performs a clean shutdown of background tasks and clients.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	if appCancel != nil {
		appCancel()
	}
	if vkClient != nil {
		vkClient.Close()
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
