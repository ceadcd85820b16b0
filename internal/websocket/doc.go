// Package websocket pushes the instance license status to connected UI
// clients. The license manager publishes through Hub.PublishStatus whenever
// the verdict's status code or message changes; each client also receives
// the latest status right after connecting.
package websocket
