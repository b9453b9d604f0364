package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/avelar-io/ttskit/internal/credentials"
	"github.com/avelar-io/ttskit/internal/engine"
	"github.com/avelar-io/ttskit/internal/gateway"
	"github.com/avelar-io/ttskit/internal/offline"
	"github.com/avelar-io/ttskit/internal/params"
	"github.com/avelar-io/ttskit/internal/player"
	"github.com/avelar-io/ttskit/internal/shared"
	"github.com/avelar-io/ttskit/internal/transport"
)

func ProvideCredentials(cfg *Config) credentials.Provider {
	return credentials.NewStaticProvider(credentials.Set{
		AppID:     cfg.AppID,
		SecretID:  cfg.SecretID,
		SecretKey: cfg.SecretKey,
		Token:     cfg.Token,
	})
}

func ProvideParams(cfg *Config) (*params.Bag, error) {
	bag := params.NewBag()
	bag.SetRegion(cfg.Region)
	if err := bag.SetVoiceType(cfg.VoiceType); err != nil {
		return nil, err
	}
	if err := bag.SetCodec(cfg.Codec); err != nil {
		return nil, err
	}
	if err := bag.SetSampleRate(cfg.SampleRate); err != nil {
		return nil, err
	}
	return bag, nil
}

func ProvideTimeouts(cfg *Config) params.Timeouts {
	return params.Timeouts{
		Connect:  cfg.ConnectTimeout,
		Request:  cfg.RequestTimeout,
		Resource: cfg.ResourceTimeout,
	}.Normalize()
}

func ProvideSigner() transport.Signer {
	return transport.PassthroughSigner{}
}

func ProvideRequestClient(cfg *Config, signer transport.Signer, log *slog.Logger) transport.RequestClient {
	return transport.NewHTTPClient(transport.HTTPClientConfig{
		Endpoint: cfg.HTTPEndpoint,
		Signer:   signer,
		Log:      log,
	})
}

func ProvideStreamClient(cfg *Config, signer transport.Signer, log *slog.Logger) transport.StreamClient {
	return transport.NewWSClient(transport.WSClientConfig{
		Endpoint: cfg.WSEndpoint,
		Signer:   signer,
		Log:      log,
	})
}

// ProvideOfflineEngine binds the local synthesis engine. The process ships
// with the simulated engine; deployments with a native voice library swap in
// their own offline.Engine implementation here.
func ProvideOfflineEngine(cfg *Config) offline.Engine {
	return offline.NewMockEngine(cfg.OfflineVoice)
}

func ProvideCache(client *redis.Client, log *slog.Logger) engine.Cache {
	return engine.NewRedisCache(client, log)
}

func ProvideBridge(log *slog.Logger) *gateway.Bridge {
	return gateway.NewBridge(log)
}

func parseEngineMode(mode string) (engine.Mode, error) {
	switch mode {
	case "online":
		return engine.ModeOnline, nil
	case "offline":
		return engine.ModeOffline, nil
	case "mixed":
		return engine.ModeMixed, nil
	}
	return 0, fmt.Errorf("unknown engine mode %q", mode)
}

type EngineParams struct {
	fx.In

	Config      *Config
	Credentials credentials.Provider
	Params      *params.Bag
	Timeouts    params.Timeouts
	Client      transport.RequestClient
	Offline     offline.Engine
	Cache       engine.Cache
	Log         *slog.Logger
}

func ProvideEngine(p EngineParams) *engine.Engine {
	return engine.New(engine.Config{
		Credentials: p.Credentials,
		Params:      p.Params,
		Timeouts:    p.Timeouts,
		Online:      p.Client,
		Offline:     p.Offline,
		License: credentials.OfflineLicense{
			License:     p.Config.OfflineLicense,
			LicensePK:   p.Config.OfflineLicensePK,
			LicenseSign: p.Config.OfflineLicenseSign,
		},
		OfflineVoice: p.Config.OfflineVoice,
		Cache:        p.Cache,
		Probe: engine.ProbeConfig{
			Interval:         p.Config.ProbeInterval,
			FailureThreshold: p.Config.ProbeFailureThreshold,
			Text:             p.Config.ProbeText,
		},
		Log: p.Log,
	})
}

// StartEngine initializes the orchestrator on startup and feeds its completed
// units to the playback bridge.
func StartEngine(lc fx.Lifecycle, eng *engine.Engine, bridge *gateway.Bridge, cfg *Config, log *slog.Logger) error {
	mode, err := parseEngineMode(cfg.EngineMode)
	if err != nil {
		return err
	}
	delegate := engine.Delegate{
		OnSynthesizeData: func(data []byte, utteranceID, text string, engineType shared.EngineType, requestID, respJSON string) {
			log.Debug("synthesis completed",
				"utterance_id", utteranceID, "engine_type", engineType.String(), "request_id", requestID)
			bridge.Publish(player.Unit{
				Audio:       data,
				Text:        text,
				UtteranceID: utteranceID,
				RespJSON:    respJSON,
			})
		},
		OnError: func(err error, utteranceID, text string) {
			log.Warn("synthesis failed", "utterance_id", utteranceID, "error", err)
		},
		OnOfflineAuthInfo: func(info offline.AuthInfo) {
			if info.Success() {
				log.Info("offline engine authorized",
					"device_id", info.DeviceID, "expires", info.ExpireTime, "voices", info.VoiceAuthList)
				return
			}
			log.Error("offline authorization failed", "code", info.Code, "message", info.Message)
		},
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return eng.Init(mode, delegate)
		},
		OnStop: func(_ context.Context) error {
			return eng.Release()
		},
	})
	return nil
}

var VoiceModule = fx.Options(
	fx.Provide(
		ProvideCredentials,
		ProvideParams,
		ProvideTimeouts,
		ProvideSigner,
		ProvideRequestClient,
		ProvideStreamClient,
		ProvideOfflineEngine,
		ProvideCache,
		ProvideBridge,
		ProvideEngine,
	),
	fx.Invoke(StartEngine),
)
