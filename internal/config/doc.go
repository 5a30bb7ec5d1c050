// Package config provides configuration loading and path management for pincer.
//
// Configuration is assembled from three layers in priority order:
//
//  1. Built-in defaults (Default), so zero-config operation works.
//  2. One JSONC config file: an explicit path (or PINCER_CONFIG), else
//     $XDG_CONFIG_HOME/pincer/pincer.jsonc.
//  3. PINCER_* environment variables (PINCER_RUNTIME, PINCER_PORT,
//     PINCER_HOSTNAME, PINCER_LOG_LEVEL, PINCER_CATALOG, PINCER_JOURNAL).
//
// Files may use JSONC comments (processed with tidwall/jsonc) and two
// interpolation forms inside string values: {env:NAME} expands to an
// environment variable and {file:path} to a file's contents, the latter
// resolved relative to the config file's directory. Durations accept
// either a number of milliseconds or a Go duration string ("90s").
package config
