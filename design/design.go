// Package design describes the hazardwatch operator API in the goa DSL.
// The HTTP handlers in internal/api implement these endpoints.
package design

import (
	. "goa.design/goa/v3/dsl"
)

// API definition
var _ = API("hazardwatch", func() {
	Title("hazardwatch")
	Description("Fire and fall detection pipeline with vision model verification")
	Version("1.0")
	Server("hazardwatch", func() {
		Services("health", "status", "settings", "auth", "notifications", "alerts")
		Host("localhost", func() {
			URI("http://localhost:8080")
		})
	})
})

// Error types
var ErrorBody = Type("ErrorBody", func() {
	Description("Error response")
	Field(1, "name", String, "Error name", func() {
		Meta("struct:error:name")
		Enum("bad_request", "unauthorized", "not_found", "unavailable", "internal")
	})
	Field(2, "id", String, "Request ID")
	Field(3, "message", String, "Error message")
	Required("name", "message")
})

// Data types
var Counters = Type("Counters", func() {
	Description("Pipeline counters")
	Field(1, "frames_read", UInt64, "Frames returned by the source")
	Field(2, "frames_processed", UInt64, "Frames published")
	Field(3, "read_errors", UInt64, "Source read failures")
	Field(4, "frames_skipped", UInt64, "Frames dropped mid-processing")
	Field(5, "detector_errors", UInt64, "Primary detector failures")
	Field(6, "heuristic_errors", UInt64, "Fall heuristic failures")
	Field(7, "alerts", UInt64, "Alerts dispatched")
	Field(8, "stream_clients", Int64, "Connected display clients")
})

var StatusResult = Type("StatusResult", func() {
	Description("Pipeline status")
	Field(1, "published", Boolean, "At least one frame has been published")
	Field(2, "frame_seq", UInt64, "Sequence number of the latest frame")
	Field(3, "frame_time", String, "Capture time of the latest frame", func() {
		Format(FormatDateTime)
	})
	Field(4, "primary_candidate", Boolean, "Primary detector flag")
	Field(5, "heuristic_candidate", Boolean, "Fall heuristic flag")
	Field(6, "verification_in_flight", Boolean, "A verifier call is outstanding")
	Field(7, "episode", UInt64, "Candidate episode counter")
	Field(8, "cooldown_active", Boolean, "Alerts are suppressed")
	Field(9, "cooldown_until", String, "Suppression deadline", func() {
		Format(FormatDateTime)
	})
	Field(10, "uptime_seconds", Int, "Process uptime")
	Field(11, "counters", Counters, "Pipeline counters")
	Required("published", "frame_seq", "primary_candidate", "heuristic_candidate", "verification_in_flight", "episode", "cooldown_active", "uptime_seconds", "counters")
})

var SettingsResult = Type("SettingsResult", func() {
	Description("Effective runtime settings")
	Field(1, "settings", MapOf(String, String), "Settings in key space")
	Field(2, "overridden", ArrayOf(String), "Keys overriding the configuration file")
	Required("settings", "overridden")
})

var ChannelResult = Type("ChannelResult", func() {
	Description("Test notification result on one channel")
	Field(1, "name", String, "Channel name")
	Field(2, "enabled", Boolean, "Channel is enabled")
	Field(3, "error", String, "Delivery error")
	Required("name", "enabled")
})

var AlertRecord = Type("AlertRecord", func() {
	Description("Dispatched alert")
	Field(1, "id", String, "Alert ID", func() {
		Format(FormatUUID)
	})
	Field(2, "timestamp", String, "Alert time", func() {
		Format(FormatDateTime)
	})
	Field(3, "conditions", ArrayOf(String), "Confirmed conditions", func() {
		Elem(func() {
			Enum("fire", "fall")
		})
	})
	Field(4, "episode", UInt64, "Candidate episode")
	Field(5, "frame_seq", UInt64, "Alerted frame")
	Field(6, "response", String, "Verifier answer")
	Field(7, "image_path", String, "Alert image location")
	Required("id", "timestamp", "conditions", "episode", "frame_seq")
})

// Health check service
var _ = Service("health", func() {
	Description("Health check endpoints for Kubernetes probes")

	Method("healthz", func() {
		Description("Liveness probe endpoint")
		Result(Empty)
		HTTP(func() {
			GET("/healthz")
			Response(StatusOK)
		})
	})

	Method("readyz", func() {
		Description("Readiness probe endpoint. Ready once a frame has been published and until capture ends.")
		Result(Empty)
		Error("unavailable", ErrorBody, "Service is not ready")
		HTTP(func() {
			GET("/readyz")
			Response(StatusOK)
			Response("unavailable", StatusServiceUnavailable)
		})
	})
})

var _ = Service("status", func() {
	Description("Pipeline state")

	Method("status", func() {
		Result(StatusResult)
		HTTP(func() {
			GET("/api/v1/status")
			Response(StatusOK)
		})
	})
})

var _ = Service("settings", func() {
	Description("Runtime tuning persisted across restarts")

	Method("get", func() {
		Result(SettingsResult)
		HTTP(func() {
			GET("/api/v1/settings")
			Response(StatusOK)
		})
	})

	Method("update", func() {
		Description("Apply settings atomically")
		Security(JWTAuth)
		Payload(func() {
			Token("token", String, "JWT used for authentication")
			Field(1, "settings", MapOf(String, String), "Settings to apply")
			Required("settings")
		})
		Result(SettingsResult)
		Error("bad_request", ErrorBody, "Invalid setting")
		Error("unauthorized", ErrorBody, "Missing or invalid token")
		HTTP(func() {
			PUT("/api/v1/settings")
			Body("settings")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
			Response("unauthorized", StatusUnauthorized)
		})
	})

	Method("reset", func() {
		Description("Remove an override and restore the configured value")
		Security(JWTAuth)
		Payload(func() {
			Token("token", String, "JWT used for authentication")
			Field(1, "key", String, "Setting key")
			Required("key")
		})
		Result(SettingsResult)
		Error("not_found", ErrorBody, "Setting is not overridden")
		Error("unauthorized", ErrorBody, "Missing or invalid token")
		HTTP(func() {
			DELETE("/api/v1/settings/{key}")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
			Response("unauthorized", StatusUnauthorized)
		})
	})
})

// JWTAuth secures mutating endpoints
var JWTAuth = JWTSecurity("jwt", func() {
	Description("Bearer token issued by auth.login")
})

var _ = Service("auth", func() {
	Description("Operator authentication")

	Method("login", func() {
		Payload(func() {
			Field(1, "username", String, "Username")
			Field(2, "password", String, "Password")
			Required("username", "password")
		})
		Result(func() {
			Field(1, "token", String, "JWT")
			Field(2, "expires_at", Int64, "Expiry as a Unix timestamp")
			Required("token", "expires_at")
		})
		Error("bad_request", ErrorBody)
		Error("unauthorized", ErrorBody)
		HTTP(func() {
			POST("/api/v1/auth/login")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
			Response("unauthorized", StatusUnauthorized)
		})
	})

	Method("status", func() {
		Result(func() {
			Field(1, "enabled", Boolean, "Authentication is enabled")
			Field(2, "authenticated", Boolean, "The caller sent a valid token")
			Field(3, "username", String, "Authenticated user")
			Required("enabled", "authenticated")
		})
		HTTP(func() {
			GET("/api/v1/auth/status")
			Response(StatusOK)
		})
	})
})

var _ = Service("notifications", func() {
	Description("Alert channels")

	Method("test", func() {
		Security(JWTAuth)
		Payload(func() {
			Token("token", String, "JWT used for authentication")
		})
		Result(func() {
			Field(1, "success", Boolean)
			Field(2, "message", String)
			Field(3, "channels", ArrayOf(ChannelResult))
			Required("success", "message", "channels")
		})
		Error("unauthorized", ErrorBody)
		HTTP(func() {
			POST("/api/v1/notifications/test")
			Response(StatusOK)
			Response("unauthorized", StatusUnauthorized)
		})
	})
})

var _ = Service("alerts", func() {
	Description("Alert history")

	Method("list", func() {
		Payload(func() {
			Field(1, "since", String, "Only alerts at or after this time", func() {
				Format(FormatDateTime)
			})
			Field(2, "limit", Int, "Maximum number of alerts", func() {
				Minimum(0)
				Maximum(1000)
			})
		})
		Result(ArrayOf(AlertRecord))
		Error("bad_request", ErrorBody)
		HTTP(func() {
			GET("/api/v1/alerts")
			Param("since")
			Param("limit")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
		})
	})
})
