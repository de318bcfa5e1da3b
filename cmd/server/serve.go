package main

import (
	"encoding/json"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/sharetube/watchparty/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "watchparty",
	Short: "Watch party server: synchronized playback rooms over websocket",
	Long:  `Runs the room server by default. Commands: serve, watch.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file loaded")
		}
	},
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room server",
	RunE:  runServe,
}

var serverFlags = pflag.NewFlagSet("server", pflag.ExitOnError)

func init() {
	secret.register(serverFlags)
	port.register(serverFlags)
	host.register(serverFlags)
	logLevel.register(serverFlags)
	membersLimit.register(serverFlags)
	playlistLimit.register(serverFlags)
	gracePeriod.register(serverFlags)
	pingInterval.register(serverFlags)
	outboxSize.register(serverFlags)
	maxViolations.register(serverFlags)
	videoLookup.register(serverFlags)
	redisHost.register(serverFlags)
	redisPort.register(serverFlags)
	redisPassword.register(serverFlags)
	driftTTL.register(serverFlags)
	natsUrl.register(serverFlags)
	natsSubject.register(serverFlags)
	suggestUrl.register(serverFlags)
	suggestApiKey.register(serverFlags)
	suggestTimeout.register(serverFlags)

	rootCmd.Flags().AddFlagSet(serverFlags)
	serveCmd.Flags().AddFlagSet(serverFlags)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

func loadAppConfig() *app.AppConfig {
	return &app.AppConfig{
		Secret:         viper.GetString(secret.flagKey),
		Host:           viper.GetString(host.flagKey),
		Port:           viper.GetInt(port.flagKey),
		LogLevel:       viper.GetString(logLevel.flagKey),
		MembersLimit:   viper.GetInt(membersLimit.flagKey),
		PlaylistLimit:  viper.GetInt(playlistLimit.flagKey),
		GracePeriod:    viper.GetDuration(gracePeriod.flagKey),
		PingInterval:   viper.GetDuration(pingInterval.flagKey),
		OutboxSize:     viper.GetInt(outboxSize.flagKey),
		MaxViolations:  viper.GetInt(maxViolations.flagKey),
		VideoLookup:    viper.GetBool(videoLookup.flagKey),
		RedisHost:      viper.GetString(redisHost.flagKey),
		RedisPort:      viper.GetInt(redisPort.flagKey),
		RedisPassword:  viper.GetString(redisPassword.flagKey),
		DriftTTL:       viper.GetDuration(driftTTL.flagKey),
		NatsUrl:        viper.GetString(natsUrl.flagKey),
		NatsSubject:    viper.GetString(natsSubject.flagKey),
		SuggestUrl:     viper.GetString(suggestUrl.flagKey),
		SuggestApiKey:  viper.GetString(suggestApiKey.flagKey),
		SuggestTimeout: viper.GetDuration(suggestTimeout.flagKey),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	return app.Run(cmd.Context(), appConfig)
}
