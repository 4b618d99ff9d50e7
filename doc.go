/*
Package flash provides an Express-style HTTP/1.1 server framework for Go.

Flash pairs the Express programming model (route registration, ordered
middleware chains with next and fail, write-once responses) with a fixed
pool of worker goroutines fed by a bounded connection queue.

# Features

  - Ordered routing: among overlapping patterns the earliest registered wins
  - Path parameters (:id) and catch-all segments (*path), URL-decoded
  - Middleware chains with next(), fail(err) and error handlers
  - Incremental HTTP/1.1 parsing with keep-alive, pipelining, chunked bodies
    and Expect: 100-continue
  - Worker pool with block or reject backpressure
  - Structured logging with zerolog and per-route metrics
  - JSON and protobuf body codecs

# Quick Start

Basic usage example:

	package main

	import (
		"github.com/searchktools/flash/app"
		"github.com/searchktools/flash/config"
		"github.com/searchktools/flash/core/http"
	)

	func main() {
		cfg := config.New()
		application := app.New(cfg)

		engine := application.Engine()
		engine.GET("/hello", func(req *http.Request, res *http.Response) {
			res.SendString("Hello, World!")
		})

		engine.GET("/users/:id", func(req *http.Request, res *http.Response) {
			res.JSON(map[string]string{"id": req.Param("id")})
		})

		application.Run()
	}

# Modules

The framework is organized into several modules:

  - app: Application lifecycle management
  - config: Configuration loading and management
  - core: Engine, connection state machine and listener
  - core/http: Request, response, parser and handler types
  - core/codec: Body codecs (JSON, protobuf)
  - core/router: Ordered route table
  - core/middleware: Chain executor and builtin middleware
  - core/pools: Worker pool, object pools and GC tuning
  - core/observability: Per-route metrics

# Configuration

Settings come from defaults, an optional JSON file (-config), FLASH_*
environment variables and command-line flags, later sources winning:

	FLASH_WORKERS=16 FLASH_BACKPRESSURE=reject ./server -port 9000
*/
package flash
