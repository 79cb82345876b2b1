// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events publishes domain events raised by the authorization server.
package events

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=events.go Sink

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Event names.
const (
	NameUserLoggedIn  = "UserLoggedIn"
	NameUserLoggedOut = "UserLoggedOut"
)

// Event is a domain event. Payload must be JSON-serializable.
type Event struct {
	Name       string
	OccurredAt time.Time
	Payload    map[string]any
}

// Sink accepts events for asynchronous delivery. Publish never blocks on
// the broker; events that cannot be delivered are dropped and logged.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// UserLoggedIn is raised when a resource owner authenticates and a code is issued.
func UserLoggedIn(userID, clientID string, at time.Time) Event {
	return Event{
		Name:       NameUserLoggedIn,
		OccurredAt: at,
		Payload: map[string]any{
			"userId":   userID,
			"clientId": clientID,
		},
	}
}

// UserLoggedOut is raised when a session's tokens are revoked. The actor is
// the subject of the access token that requested the logout.
func UserLoggedOut(userID, clientID, actorID, actorRole string, at time.Time) Event {
	payload := map[string]any{
		"userId":   userID,
		"clientId": clientID,
	}
	if actorID != "" {
		payload["actorId"] = actorID
	}
	if actorRole != "" {
		payload["actorRole"] = actorRole
	}
	return Event{Name: NameUserLoggedOut, OccurredAt: at, Payload: payload}
}

var (
	camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// RoutingKey converts an event name to its topic routing key:
// "UserLoggedIn" becomes "user.logged.in".
func RoutingKey(name string) string {
	key := camelBoundary.ReplaceAllString(strings.TrimSpace(name), "$1.$2")
	key = whitespace.ReplaceAllString(key, ".")
	return strings.ToLower(key)
}

// LogSink writes events to the structured log. It is used when no broker is
// configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs through l, or slog.Default when l is nil.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{logger: l}
}

// Publish logs the event at info level.
func (s *LogSink) Publish(ctx context.Context, event Event) {
	args := []any{"event", event.Name, "occurred_at", event.OccurredAt.UTC().Format(time.RFC3339Nano)}
	for k, v := range event.Payload {
		args = append(args, k, v)
	}
	s.logger.InfoContext(ctx, "domain event", args...)
}

// NopSink discards every event.
type NopSink struct{}

// Publish does nothing.
func (NopSink) Publish(context.Context, Event) {}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = NopSink{}
)
