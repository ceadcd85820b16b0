// Package http implements the HTTP handlers of the license authority and the
// monitored instance. Handlers only parse requests, call a service and
// render the result; every failure goes through errors.ErrorHandler so
// clients always receive RFC 7807 problem documents.
//
// Authority routes:
//
//	POST /api/v1/license/verify
//	POST /api/v1/admin/licenses
//	GET  /api/v1/admin/licenses
//	GET  /api/v1/admin/licenses/{key}
//	POST /api/v1/admin/licenses/{key}/release
//	POST /api/v1/admin/licenses/{key}/revoke
//	POST /api/v1/admin/reaper/run
//
// Instance routes:
//
//	GET    /api/license/status
//	POST   /api/license/recheck
//	PUT    /api/license/key
//	GET    /api/devices
//	POST   /api/devices
//	POST   /api/devices/import
//	DELETE /api/devices/{id}
//	GET    /license/expired
//
// Both servers expose GET /api/health.
package http
