// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/gin-gonic/gin"

	"github.com/insightrelay/insightrelay/services/relay/correlation"
)

// Middleware opens a telemetry pipeline per request, continuing the
// inbound traceparent if present, and ends it with the Request
// envelope after the handler chain completes. The pipeline is exposed
// to handlers through the request context (use Hub.FromContext) and
// the response carries the outbound traceparent header.
func Middleware(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := hub.NewPipeline(c.GetHeader(correlation.Header))
		c.Request = c.Request.WithContext(WithContext(c.Request.Context(), p))
		c.Header(correlation.Header, p.Correlation().TraceparentHeader())

		defer func() {
			// The request envelope must go out even if a handler
			// panicked; re-panic so gin's recovery still runs.
			r := recover()
			p.End(c.Request.Context(), c.Request.Method, c.Request.URL.RequestURI(), statusFor(c, r))
			if r != nil {
				panic(r)
			}
		}()
		c.Next()
	}
}

func statusFor(c *gin.Context, recovered any) int {
	if recovered != nil {
		return 500
	}
	return c.Writer.Status()
}
