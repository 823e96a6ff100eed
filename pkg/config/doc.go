// Package config loads process configuration from the environment.
//
// A .env file in the working directory, when present, is loaded first and
// never overrides variables already set. Values are parsed into Config with
// github.com/caarlos0/env struct tags.
package config
