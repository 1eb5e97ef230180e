// Package webrtcpeer implements the negotiation capability on top of pion.
package webrtcpeer

import (
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// NewAPI builds the pion API shared by every call. The default codecs and
// interceptors are registered so RTCP receiver reports feed the stats used
// for bitrate adaptation. configure may adjust the setting engine, e.g. to
// bind a virtual network in tests.
func NewAPI(logger *slog.Logger, configure ...func(*webrtc.SettingEngine)) (*webrtc.API, error) {
	if logger == nil {
		logger = slog.Default()
	}
	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory(logger)
	for _, fn := range configure {
		fn(&se)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}
