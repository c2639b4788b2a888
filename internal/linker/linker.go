// Package linker drives the session linking flow: start a session sync
// server-side, receive the QR code over the push channel, render it to disk
// for scanning and wait until the remote account is ready.
package linker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crisari666/wamon/internal/model"
	"github.com/crisari666/wamon/internal/push"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Transport is the slice of the push client the linker needs.
type Transport interface {
	JoinRoom(room string)
	LeaveRoom(room string)
	On(event string, handler func(push.Envelope)) func()
}

// API starts session syncs on the WhatsApp microservice.
type API interface {
	StartSession(ctx context.Context, sessionID, refID string) (*model.Session, error)
}

// Linker runs linking flows. OnQR, when set, is called with the path of each
// rendered QR image; the code rotates server-side so it may fire repeatedly.
type Linker struct {
	transport Transport
	api       API
	qrDir     string
	logger    *zap.Logger

	OnQR func(path string)
}

// New creates a linker writing QR images into qrDir.
func New(transport Transport, api API, qrDir string, logger *zap.Logger) *Linker {
	return &Linker{transport: transport, api: api, qrDir: qrDir, logger: logger}
}

// Link starts a session sync and blocks until the session is ready, the
// server reports an error or ctx expires. The session room is joined before
// the start call goes out: the server begins pushing the moment the session
// exists, and a QR emitted into an unjoined room is lost for good.
func (l *Linker) Link(ctx context.Context, sessionID, refID string) (*model.Session, error) {
	room := push.RoomForSession(sessionID)

	events := make(chan push.Envelope, 16)
	forward := func(env push.Envelope) {
		select {
		case events <- env:
		default:
			l.logger.Warn("linking event dropped", zap.String("event", env.Event))
		}
	}

	unsubQR := l.transport.On(push.EventQR, forward)
	defer unsubQR()
	unsubReady := l.transport.On(push.EventReady, forward)
	defer unsubReady()
	unsubErr := l.transport.On(push.EventError, forward)
	defer unsubErr()

	l.transport.JoinRoom(room)
	defer l.transport.LeaveRoom(room)

	session, err := l.api.StartSession(ctx, sessionID, refID)
	if err != nil {
		return nil, fmt.Errorf("start session %s: %w", sessionID, err)
	}

	for {
		select {
		case env := <-events:
			done, err := l.handleEvent(env, sessionID)
			if err != nil {
				return nil, err
			}
			if done {
				session.Status = model.StatusReady
				return session, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("link session %s: %w", sessionID, ctx.Err())
		}
	}
}

// handleEvent processes one linking event. Returns done=true once the
// session reported ready.
func (l *Linker) handleEvent(env push.Envelope, sessionID string) (bool, error) {
	switch env.Event {
	case push.EventQR:
		p, err := push.ParseData[push.QRPayload](env)
		if err != nil {
			l.logger.Warn("malformed qr payload", zap.Error(err))
			return false, nil
		}
		if p.SessionID != sessionID {
			return false, nil
		}
		path, err := l.writeQR(sessionID, p.QR)
		if err != nil {
			return false, err
		}
		l.logger.Info("qr code ready for scan", zap.String("path", path))
		if l.OnQR != nil {
			l.OnQR(path)
		}
		return false, nil

	case push.EventReady:
		p, err := push.ParseData[push.ReadyPayload](env)
		if err != nil || p.SessionID != sessionID {
			return false, nil
		}
		return true, nil

	case push.EventError:
		p, err := push.ParseData[push.ErrorPayload](env)
		if err != nil || p.SessionID != sessionID {
			return false, nil
		}
		return false, fmt.Errorf("link session %s: %s", sessionID, p.Message)

	default:
		return false, nil
	}
}

func (l *Linker) writeQR(sessionID, content string) (string, error) {
	if err := os.MkdirAll(l.qrDir, 0o755); err != nil {
		return "", fmt.Errorf("qr dir: %w", err)
	}
	path := filepath.Join(l.qrDir, sessionID+".png")
	if err := qrcode.WriteFile(content, qrcode.Medium, 512, path); err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	return path, nil
}
