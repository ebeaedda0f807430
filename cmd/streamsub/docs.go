package main

// General API documentation for the producer served by `streamsub serve`.
//
// @title           streamsub producer API
// @version         1.0
// @description     Named server-sent event streams with an HTTP publish endpoint.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
