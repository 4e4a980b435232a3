package main

// General API documentation for swaggo.
//
// @title           deployd API
// @version         1.0
// @description     Single-host model deployment control plane and inference router.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
