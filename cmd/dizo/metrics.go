package main

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/born-ml/dizo/internal/metrics"
)

// serveMetrics serves the collector's registry on addr under /metrics.
// Listen errors are logged; training does not depend on the endpoint.
func serveMetrics(addr string, c *metrics.Collector, logger zerolog.Logger) *fasthttp.Server {
	prom := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	srv := &fasthttp.Server{
		Name: "dizo",
		Handler: func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/metrics":
				prom(ctx)
			case "/healthz":
				ctx.SetStatusCode(fasthttp.StatusOK)
				ctx.SetBodyString("ok")
			default:
				ctx.Error("not found", fasthttp.StatusNotFound)
			}
		},
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(addr); err != nil {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return srv
}
