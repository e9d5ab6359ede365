// Package metrics exposes the bridge's Prometheus registry and a liveness
// endpoint over HTTP.
//
//	registry := metrics.NewRegistry(version, bulb.NewMetricsCollector(manager, bridge))
//	srv := metrics.NewServer(cfg.Metrics.Address(), cfg.Metrics.Path, registry, healthFn)
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(ctx)
package metrics
