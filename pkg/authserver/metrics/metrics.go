// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus counters for the authorization server.
// All Recorder methods are safe to call on a nil receiver.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

const namespace = "toka"

// ResultSuccess labels an operation that completed without error.
const ResultSuccess = "success"

// Revocation kinds.
const (
	RevokedAccess  = "access"
	RevokedRefresh = "refresh"
)

// Recorder owns a private registry and the server's collectors.
type Recorder struct {
	registry        *prometheus.Registry
	logins          *prometheus.CounterVec
	grants          *prometheus.CounterVec
	revocations     *prometheus.CounterVec
	refreshReplays  prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// New creates a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Resource owner login attempts by result.",
		}, []string{"result"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_grants_total",
			Help:      "Token endpoint grants by grant type and result.",
		}, []string{"grant_type", "result"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_revocations_total",
			Help:      "Tokens revoked by kind.",
		}, []string{"kind"}),
		refreshReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_token_replays_total",
			Help:      "Refresh tokens presented after they were rotated or revoked.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.logins,
		r.grants,
		r.revocations,
		r.refreshReplays,
		r.requestDuration,
	)
	return r
}

// Result maps an operation error to a label value.
func Result(err error) string {
	if err == nil {
		return ResultSuccess
	}
	return string(tokaerrors.KindOf(err))
}

// Login counts a login attempt.
func (r *Recorder) Login(err error) {
	if r == nil {
		return
	}
	r.logins.WithLabelValues(Result(err)).Inc()
}

// Grant counts a token endpoint grant.
func (r *Recorder) Grant(grantType string, err error) {
	if r == nil {
		return
	}
	r.grants.WithLabelValues(grantType, Result(err)).Inc()
}

// Revocation counts a revoked token.
func (r *Recorder) Revocation(kind string) {
	if r == nil {
		return
	}
	r.revocations.WithLabelValues(kind).Inc()
}

// RefreshReplay counts a refresh token presented after revocation.
func (r *Recorder) RefreshReplay() {
	if r == nil {
		return
	}
	r.refreshReplays.Inc()
}

// ObserveRequest records the latency of a served HTTP request.
func (r *Recorder) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
