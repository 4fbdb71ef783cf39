package httpserver

import (
	"context"

	"jellyswarrm/internal/models"
	"jellyswarrm/internal/session"
)

type ctxKey int

const (
	ctxKeySession ctxKey = iota
	ctxKeyDevice
)

func withSession(ctx context.Context, sess *models.AuthorizationSession) context.Context {
	return context.WithValue(ctx, ctxKeySession, sess)
}

func sessionFromContext(ctx context.Context) (*models.AuthorizationSession, bool) {
	sess, ok := ctx.Value(ctxKeySession).(*models.AuthorizationSession)
	return sess, ok
}

func withDevice(ctx context.Context, dev session.DeviceInfo) context.Context {
	return context.WithValue(ctx, ctxKeyDevice, dev)
}

func deviceFromContext(ctx context.Context) (session.DeviceInfo, bool) {
	dev, ok := ctx.Value(ctxKeyDevice).(session.DeviceInfo)
	return dev, ok
}
