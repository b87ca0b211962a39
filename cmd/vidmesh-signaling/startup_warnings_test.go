package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/vidmesh/signaling/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	out := h.groups[0]
	for _, g := range h.groups[1:] {
		out += "." + g
	}
	return out + "." + k
}

func warningCodes(records []recordedLog) map[string]bool {
	codes := map[string]bool{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes[code] = true
		}
	}
	return codes
}

func TestStartupWarnings_NoTURNServer(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:       config.ModeProd,
		MaxRooms:   100,
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	}
	logStartupWarnings(logger, cfg)

	codes := warningCodes(records())
	if !codes["no_turn_server"] {
		t.Fatalf("expected warning_code=no_turn_server, got %#v", records())
	}
	if codes["max_rooms_unlimited_in_prod"] {
		t.Fatalf("unexpected max_rooms warning with MaxRooms=100")
	}
}

func TestStartupWarnings_TURNWithoutCredentials(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode: config.ModeDev,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"turn:turn.example.com:3478"}},
		},
	}
	logStartupWarnings(logger, cfg)

	if !warningCodes(records())["turn_missing_credentials"] {
		t.Fatalf("expected warning_code=turn_missing_credentials, got %#v", records())
	}
}

func TestStartupWarnings_UnlimitedRoomsInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode: config.ModeProd,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
		},
	}
	logStartupWarnings(logger, cfg)

	codes := warningCodes(records())
	if !codes["max_rooms_unlimited_in_prod"] {
		t.Fatalf("expected warning_code=max_rooms_unlimited_in_prod, got %#v", records())
	}
	if codes["no_turn_server"] || codes["turn_missing_credentials"] {
		t.Fatalf("unexpected TURN warnings: %#v", codes)
	}
}

func TestCountICEServers(t *testing.T) {
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:a.example.com:3478", "stun:b.example.com:3478"}},
			{URLs: []string{"turns:turn.example.com:5349?transport=tcp"}, Username: "u", Credential: "p"},
		},
	}
	stun, turn := countICEServers(cfg)
	if stun != 2 || turn != 1 {
		t.Fatalf("countICEServers = %d/%d, want 2/1", stun, turn)
	}
}
