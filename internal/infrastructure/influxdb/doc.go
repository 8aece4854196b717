// Package influxdb provides the time-series sink for request telemetry.
//
// The access log recorder mirrors every recorded request into the
// "api_access" measurement so dashboards can chart latency and status
// codes per client source without querying SQLite.
//
// Writes are non-blocking and batched. Failures are delivered to the
// callback registered with SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	client.WritePoint("api_access", tags, fields, time.Now())
package influxdb
