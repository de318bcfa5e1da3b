package main

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

// register adds the flag to fs and binds it, its env var and its default
// in viper. Flags win over env vars, env vars over defaults.
func (c configVar[T]) register(fs *pflag.FlagSet) {
	switch d := any(c.defaultValue).(type) {
	case string:
		fs.String(c.flagKey, d, c.usage)
	case int:
		fs.Int(c.flagKey, d, c.usage)
	case bool:
		fs.Bool(c.flagKey, d, c.usage)
	case time.Duration:
		fs.Duration(c.flagKey, d, c.usage)
	}

	viper.BindPFlag(c.flagKey, fs.Lookup(c.flagKey))
	viper.BindEnv(c.flagKey, c.envKey)
	viper.SetDefault(c.flagKey, c.defaultValue)
}

var (
	secret = configVar[string]{
		envKey:       "SERVER_SECRET",
		flagKey:      "secret",
		defaultValue: "",
		usage:        "Server secret used to sign session tokens",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 80,
		usage:        "Server port",
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
		usage:        "Server host",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	membersLimit = configVar[int]{
		envKey:       "SERVER_MEMBERS_LIMIT",
		flagKey:      "members-limit",
		defaultValue: 9,
		usage:        "Maximum number of members in the room",
	}
	playlistLimit = configVar[int]{
		envKey:       "SERVER_PLAYLIST_LIMIT",
		flagKey:      "playlist-limit",
		defaultValue: 25,
		usage:        "Maximum number of videos in the playlist",
	}
	gracePeriod = configVar[time.Duration]{
		envKey:       "SERVER_ROOM_GRACE_PERIOD",
		flagKey:      "room-grace-period",
		defaultValue: 30 * time.Second,
		usage:        "How long an empty room waits for rejoins",
	}
	pingInterval = configVar[time.Duration]{
		envKey:       "SERVER_PING_INTERVAL",
		flagKey:      "ping-interval",
		defaultValue: 30 * time.Second,
		usage:        "Websocket ping interval",
	}
	outboxSize = configVar[int]{
		envKey:       "SERVER_OUTBOX_SIZE",
		flagKey:      "outbox-size",
		defaultValue: 64,
		usage:        "Messages buffered per connection before it is dropped",
	}
	maxViolations = configVar[int]{
		envKey:       "SERVER_MAX_VIOLATIONS",
		flagKey:      "max-violations",
		defaultValue: 5,
		usage:        "Invalid messages tolerated before a connection is closed",
	}
	videoLookup = configVar[bool]{
		envKey:       "SERVER_VIDEO_LOOKUP",
		flagKey:      "video-lookup",
		defaultValue: true,
		usage:        "Look up titles of videos added without one",
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "",
		usage:        "Redis host for drift telemetry, empty to disable",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
		usage:        "Redis port",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
		usage:        "Redis password",
	}
	driftTTL = configVar[time.Duration]{
		envKey:       "SERVER_DRIFT_TTL",
		flagKey:      "drift-ttl",
		defaultValue: 10 * time.Minute,
		usage:        "How long drift reports are kept in redis",
	}
	natsUrl = configVar[string]{
		envKey:       "NATS_URL",
		flagKey:      "nats-url",
		defaultValue: "",
		usage:        "NATS url for drift telemetry, empty to disable",
	}
	natsSubject = configVar[string]{
		envKey:       "NATS_SUBJECT",
		flagKey:      "nats-subject",
		defaultValue: "watchparty.telemetry",
		usage:        "NATS subject prefix for drift reports",
	}
	suggestUrl = configVar[string]{
		envKey:       "SUGGEST_URL",
		flagKey:      "suggest-url",
		defaultValue: "",
		usage:        "Recommendation endpoint, empty to disable",
	}
	suggestApiKey = configVar[string]{
		envKey:       "SUGGEST_API_KEY",
		flagKey:      "suggest-api-key",
		defaultValue: "",
		usage:        "Recommendation endpoint api key",
	}
	suggestTimeout = configVar[time.Duration]{
		envKey:       "SUGGEST_TIMEOUT",
		flagKey:      "suggest-timeout",
		defaultValue: 10 * time.Second,
		usage:        "Recommendation request timeout",
	}
)
