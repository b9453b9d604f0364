package bootstrap

import (
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/avelar-io/ttskit/internal/credentials"
	"github.com/avelar-io/ttskit/internal/engine"
	"github.com/avelar-io/ttskit/internal/gateway"
	"github.com/avelar-io/ttskit/internal/health"
	"github.com/avelar-io/ttskit/internal/params"
	"github.com/avelar-io/ttskit/internal/transport"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

type GatewayParams struct {
	fx.In

	Engine      *engine.Engine
	Client      transport.RequestClient
	Stream      transport.StreamClient
	Credentials credentials.Provider
	Params      *params.Bag
	Timeouts    params.Timeouts
	Bridge      *gateway.Bridge
	Log         *slog.Logger
}

func ProvideGatewayHandler(p GatewayParams) *gateway.Handler {
	return gateway.NewHandler(p.Engine, p.Client, p.Stream, p.Credentials, p.Params, p.Timeouts, p.Bridge, p.Log)
}

func ProvideHealthHandler(redisClient *redis.Client, eng *engine.Engine, bridge *gateway.Bridge, cfg *Config) *health.Handler {
	return health.NewHandler(redisClient, eng, bridge, cfg.Version)
}

func RegisterRoutes(e *echo.Echo, gw *gateway.Handler, hh *health.Handler) {
	gw.RegisterRoutes(e.Group("/api/v1"))
	hh.RegisterRoutes(e)
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideGatewayHandler,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
)
