package transport

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mentorcall/internal/util"
)

// CodecRegistrar installs codecs on a MediaEngine. The device capturer
// provides one so negotiated codecs match what it can encode.
type CodecRegistrar func(*webrtc.MediaEngine) error

func registerDefaultCodecs(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }

const keepAliveInterval = 2 * time.Second

// newAPI builds a pion API with codecs, the default interceptor chain (NACK,
// RTCP reports, TWCC) and the configured ICE timeouts.
func newAPI(opts Options) (*webrtc.API, error) {
	register := opts.RegisterCodecs
	if register == nil {
		register = registerDefaultCodecs
	}

	m := &webrtc.MediaEngine{}
	if err := register(m); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: util.NewPionLoggerFactory()}
	se.SetICETimeouts(opts.DisconnectedTimeout, opts.FailedTimeout, keepAliveInterval)
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}
